// ABOUTME: Interactive "init" command that writes a starter config file
// ABOUTME: Generates the consent cookie secret and keeps GitHub credentials in env vars

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type initAnswers struct {
	HTTPAddr     string
	BaseURL      string
	DBPath       string
	KVPath       string
	CookieSecret string
	Model        string
	LogLevel     string
	LogFormat    string
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("bookshelf-gateway configuration setup")
	fmt.Println("=====================================")
	fmt.Println()

	dataPath := getDataPath()
	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	a := initAnswers{CookieSecret: secret}

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8787")
	a.BaseURL = prompt(reader, "Public base URL", "http://"+a.HTTPAddr)

	fmt.Println("\n--- Storage ---")
	a.DBPath = prompt(reader, "SQLite database path", filepath.Join(dataPath, "bookshelf.db"))
	a.KVPath = prompt(reader, "Badger KV directory", filepath.Join(dataPath, "kv"))

	fmt.Println("\n--- Recommendations ---")
	a.Model = prompt(reader, "Model", "gpt-4o-mini")

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.DBPath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("GitHub OAuth app callback URL: %s/callback\n", strings.TrimRight(a.BaseURL, "/"))
	fmt.Println("\nSet GITHUB_CLIENT_ID, GITHUB_CLIENT_SECRET and OPENAI_API_KEY, then start the server:")
	fmt.Println("  bookshelf-gateway serve")
	return nil
}

func renderConfig(a initAnswers) string {
	var b strings.Builder
	b.WriteString("# bookshelf-gateway configuration\n")
	b.WriteString("# Generated by bookshelf-gateway init\n\n")

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	fmt.Fprintf(&b, "  base_url: %q\n\n", a.BaseURL)

	b.WriteString("github:\n")
	b.WriteString("  client_id: \"${GITHUB_CLIENT_ID}\"\n")
	b.WriteString("  client_secret: \"${GITHUB_CLIENT_SECRET}\"\n\n")

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  cookie_secret: %q\n", a.CookieSecret)
	b.WriteString("  consent_ttl: \"720h\"\n")
	b.WriteString("  access_token_ttl: \"1h\"\n")
	b.WriteString("  refresh_token_ttl: \"720h\"\n\n")

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  path: %q\n\n", a.DBPath)

	b.WriteString("kv:\n")
	b.WriteString("  driver: \"badger\"\n")
	fmt.Fprintf(&b, "  path: %q\n\n", a.KVPath)

	b.WriteString("actors:\n")
	b.WriteString("  idle_timeout: \"30m\"\n\n")

	b.WriteString("recommender:\n")
	b.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	fmt.Fprintf(&b, "  model: %q\n", a.Model)
	b.WriteString("  max_tokens: 512\n")
	b.WriteString("  timeout: \"30s\"\n\n")

	b.WriteString("rate_limit:\n")
	b.WriteString("  requests_per_second: 5\n")
	b.WriteString("  burst: 20\n\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n\n", a.LogFormat)

	b.WriteString("metrics:\n")
	b.WriteString("  enabled: false\n")
	b.WriteString("  path: \"/metrics\"\n")
	return b.String()
}

// generateSecret returns 48 random bytes, base64 encoded.
func generateSecret() (string, error) {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating cookie secret: %w", err)
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
