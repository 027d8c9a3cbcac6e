// Package schemas embeds the wire message schemas. The transport
// validates inbound frames against them; the files themselves are the
// published contract for client authors.
package schemas

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed *.schema.json
var files embed.FS

// Compile builds the named schema from the embedded set.
func Compile(name string) (*jsonschema.Schema, error) {
	b, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("schemas: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("schemas: %s: %w", name, err)
	}
	return c.Compile(name)
}

// MustCompile panics when the embedded schema does not compile; that is
// a packaging bug, not a runtime condition.
func MustCompile(name string) *jsonschema.Schema {
	s, err := Compile(name)
	if err != nil {
		panic(err)
	}
	return s
}
