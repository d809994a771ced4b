// Command gmail-auth-helper obtains the refresh token used by Gmail
// announcement ingestion.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: gmail-auth-helper <credentials.json>")
	}
	credentialsFile := os.Args[1]

	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		log.Fatalf("Failed to read credentials file: %v", err)
	}
	config, err := google.ConfigFromJSON(data, gmail.GmailReadonlyScope)
	if err != nil {
		log.Fatalf("Failed to parse credentials: %v", err)
	}

	authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("🔗 Gmail ingestion authorization\n")
	fmt.Printf("1. Open this URL in your browser:\n   %s\n\n", authURL)
	fmt.Printf("2. Authorize read-only access for the announcements mailbox\n")
	fmt.Printf("📝 Enter the authorization code: ")

	var code string
	if _, err := fmt.Scan(&code); err != nil {
		log.Fatalf("Failed to read authorization code: %v", err)
	}
	token, err := config.Exchange(context.Background(), code)
	if err != nil {
		log.Fatalf("Failed to exchange code for token: %v", err)
	}
	if token.RefreshToken == "" {
		log.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	fmt.Printf("\n✅ Add these to your .env file:\n\n")
	fmt.Printf("GMAIL_CREDENTIALS_JSON_PATH=%s\n", credentialsFile)
	fmt.Printf("GMAIL_REFRESH_TOKEN=%s\n", token.RefreshToken)
	fmt.Printf("GMAIL_INGEST_QUERY='label:announcements newer_than:1d'\n")
}
