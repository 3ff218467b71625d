// Package schemas embeds the repolens OpenAPI document.
package schemas

import _ "embed"

// OpenAPISpec is the raw OpenAPI 3 document served by the repolens server.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
