package config

import (
	"fmt"
	"strings"

	"github.com/ginjaninja78/payment-import/internal/bind"
)

// Validate checks the struct tags of c and a few cross-field rules the tags
// cannot express.
func Validate(c *MainConfig) error {
	if err := bind.Struct(c); err != nil {
		return err
	}
	for _, ext := range c.Import.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("import.allowed_extensions: %q must start with a dot", ext)
		}
	}
	return nil
}
