package main

//go:generate swag init -g cmd/stealth-dca/main.go -o docs

// @title           stealth-dca API
// @version         0.1.0
// @description     Recurring Solana token purchases with optional privacy stages.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
