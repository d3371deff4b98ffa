// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time to ensure the CLI and server work
// correctly regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// RulesManifestSchema is the embedded rules-manifest JSON schema.
//
//go:embed rules-manifest.schema.json
var RulesManifestSchema []byte

// ReplaceRequestSchema is the embedded schema for POST /replace-text bodies.
//
//go:embed replace-request.schema.json
var ReplaceRequestSchema []byte
