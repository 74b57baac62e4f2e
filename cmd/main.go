package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: Error loading .env file", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
