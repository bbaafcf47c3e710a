// Command expirebin-useradmin manages the YAML user file consumed by
// the API server's authenticator.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/INLOpen/expirebin/auth"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  expirebin-useradmin -file users.yaml add -user NAME -role reader|writer
  expirebin-useradmin -file users.yaml list
`)
	os.Exit(2)
}

func main() {
	filePath := flag.String("file", "users.yaml", "Path to the user file")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	switch args[0] {
	case "add":
		addCmd := flag.NewFlagSet("add", flag.ExitOnError)
		username := addCmd.String("user", "", "Username to add or update")
		role := addCmd.String("role", auth.RoleReader, "Role: reader or writer")
		_ = addCmd.Parse(args[1:])
		if *username == "" {
			usage()
		}
		password, err := promptPassword()
		if err != nil {
			fatal(err)
		}
		if err := auth.UpsertUser(*filePath, *username, password, *role); err != nil {
			fatal(err)
		}
		fmt.Printf("User '%s' saved with role '%s'.\n", *username, *role)
	case "list":
		records, err := auth.ReadUserFile(*filePath)
		if err != nil {
			fatal(err)
		}
		for _, r := range records {
			fmt.Printf("%s\t%s\n", r.Username, r.Role)
		}
	default:
		usage()
	}
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passwords do not match")
	}
	password := strings.TrimSpace(string(first))
	if password == "" {
		return "", fmt.Errorf("password must not be empty")
	}
	return password, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
