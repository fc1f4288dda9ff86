package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var tokenGenerate bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "API token commands",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Hash an API token for api.token_hash",
	Long: `Prompt for an API token and print its bcrypt hash for the api.token_hash
setting. With --generate a random token is created and printed once.`,
	RunE: runTokenHash,
}

func init() {
	tokenHashCmd.Flags().BoolVar(&tokenGenerate, "generate", false, "Generate a random token instead of prompting")

	tokenCmd.AddCommand(tokenHashCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	var token string

	if tokenGenerate {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		token = hex.EncodeToString(buf)
		fmt.Printf("Token: %s\n", token)
	} else {
		fmt.Print("Enter token: ")
		tokBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		fmt.Println()

		fmt.Print("Confirm token: ")
		tokBytes2, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		fmt.Println()

		if string(tokBytes) != string(tokBytes2) {
			return fmt.Errorf("tokens do not match")
		}
		token = string(tokBytes)
	}

	if len(token) < 16 {
		return fmt.Errorf("token must be at least 16 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash token: %w", err)
	}

	fmt.Printf("Hash: %s\n", hash)
	return nil
}
