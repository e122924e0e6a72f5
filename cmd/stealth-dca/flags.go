package main

import (
	"github.com/spf13/pflag"

	"stealthdca/internal/models"
)

func addPrivacyFlags(fs *pflag.FlagSet, p *models.PrivacyFlags) {
	fs.BoolVar(&p.UseEphemeral, "ephemeral", false, "swap from a fresh disposable identity")
	fs.BoolVar(&p.UsePool, "pool", false, "fund the identity through the anonymity pool")
	fs.BoolVar(&p.UseEncryptedTransfer, "encrypted-transfer", false, "deliver the output through the shielded pool")
	fs.BoolVar(&p.UseConfidential, "confidential", false, "encrypt the received amount")
	fs.BoolVar(&p.UseScreening, "screen", false, "screen addresses before swapping")
}
