// Package credentials resolves the access keys used by the /vsis3/ scheme.
package credentials

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultPasswdFile is looked up in the home directory when no file is given.
const DefaultPasswdFile = ".passwd-vsifs"

// Credentials holds AWS credentials
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// NewCredentials creates an empty credentials instance
func NewCredentials() *Credentials {
	return &Credentials{}
}

// LoadFromPasswdFile loads the default ACCESS_KEY:SECRET_KEY line of a
// passwd file.
func (c *Credentials) LoadFromPasswdFile(path string) error {
	return c.LoadFromPasswdFileForBucket(path, "")
}

// LoadFromPasswdFileForBucket loads credentials from a passwd file. Lines are
// either ACCESS_KEY:SECRET_KEY or BUCKET:ACCESS_KEY:SECRET_KEY; a line naming
// bucket wins over the default line. Blank lines and # comments are skipped.
func (c *Credentials) LoadFromPasswdFileForBucket(path, bucket string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}

	var def, match []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch len(parts) {
		case 2:
			if def == nil {
				def = parts
			}
		case 3:
			if bucket != "" && parts[0] == bucket && match == nil {
				match = parts[1:]
			}
		default:
			return fmt.Errorf("invalid passwd file format at line %d, expected [BUCKET:]ACCESS_KEY:SECRET_KEY", n)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}

	keys := match
	if keys == nil {
		keys = def
	}
	if keys == nil {
		return fmt.Errorf("no credentials for bucket %q in %s", bucket, path)
	}
	c.AccessKeyID, c.SecretAccessKey = keys[0], keys[1]
	return nil
}

// LoadFromEnvironment loads credentials from the standard AWS variables
func (c *Credentials) LoadFromEnvironment() error {
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if accessKey == "" || secretKey == "" {
		return fmt.Errorf("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}

	c.AccessKeyID = accessKey
	c.SecretAccessKey = secretKey
	c.SessionToken = os.Getenv("AWS_SESSION_TOKEN")
	if region := os.Getenv("AWS_REGION"); region != "" {
		c.Region = region
	}
	return nil
}

// IsValid reports whether both access key and secret are set
func (c *Credentials) IsValid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// ErrNoCredentials is returned by Resolve when no source has credentials.
var ErrNoCredentials = errors.New("no S3 credentials found")

// Resolve tries, in order, passwdFile (when set), the environment and
// ~/.passwd-vsifs. A passwdFile that cannot be read is an error rather than
// a fallthrough.
func Resolve(passwdFile, bucket string) (*Credentials, error) {
	c := NewCredentials()
	if passwdFile != "" {
		if err := c.LoadFromPasswdFileForBucket(passwdFile, bucket); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err := c.LoadFromEnvironment(); err == nil {
		return c, nil
	}
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, DefaultPasswdFile)
		if _, err := os.Stat(path); err == nil {
			if err := c.LoadFromPasswdFileForBucket(path, bucket); err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return nil, ErrNoCredentials
}
