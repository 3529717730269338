package repos

import (
	"fmt"
	"strings"

	"github.com/rclone/vault/lib/obscure"
)

// RepoConfig is everything needed to mount a repo with an external
// crypt-compatible tool.
type RepoConfig struct {
	Name     string
	Path     string
	Password string
	Salt     *string
	Config   string
}

// slugify reduces a repo name to a config section name
func slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// generateConfigText renders a crypt config section with obscured
// secrets.
func generateConfigText(name, path, password string, salt *string) string {
	section := slugify(name)
	if section == "" {
		section = "vault"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n", section)
	b.WriteString("type = crypt\n")
	fmt.Fprintf(&b, "remote = koofr:%s\n", path)
	fmt.Fprintf(&b, "password = %s\n", obscure.MustObscure(password))
	if salt != nil {
		fmt.Fprintf(&b, "password2 = %s\n", obscure.MustObscure(*salt))
	}
	return b.String()
}
