package auth

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// UserRecord is one entry of the user file.
type UserRecord struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

type userFile struct {
	Users []UserRecord `yaml:"users"`
}

// ReadUserFile loads and validates the YAML user file at path.
func ReadUserFile(path string) ([]UserRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var uf userFile
	if err := yaml.Unmarshal(data, &uf); err != nil {
		return nil, fmt.Errorf("failed to parse user file %s: %w", path, err)
	}
	for i, u := range uf.Users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("user entry %d is missing username or password hash", i)
		}
		if u.Role != RoleReader && u.Role != RoleWriter {
			return nil, fmt.Errorf("user '%s' has invalid role '%s'", u.Username, u.Role)
		}
	}
	return uf.Users, nil
}

// WriteUserFile persists the records, replacing the file atomically.
func WriteUserFile(path string, records []UserRecord) error {
	data, err := yaml.Marshal(userFile{Users: records})
	if err != nil {
		return fmt.Errorf("failed to marshal user file: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write user file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace user file: %w", err)
	}
	return nil
}

// UpsertUser adds or replaces a user with a freshly hashed password.
// The file is created if absent.
func UpsertUser(path, username, password, role string) error {
	if role != RoleReader && role != RoleWriter {
		return fmt.Errorf("invalid role '%s'", role)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	var records []UserRecord
	if existing, err := ReadUserFile(path); err == nil {
		records = existing
	} else if !os.IsNotExist(err) {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].Username == username {
			records[i].PasswordHash = string(hashed)
			records[i].Role = role
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, UserRecord{Username: username, PasswordHash: string(hashed), Role: role})
	}
	return WriteUserFile(path, records)
}
