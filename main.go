package main

import (
	"fmt"
	"os"

	"compliance-api/core/server"
)

// @title Compliance API
// @version 1.0
// @description Company compliance backend with the Xero ledger integration

// @host localhost:7070
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Example: "Bearer {token}"

func main() {
	if err := server.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
