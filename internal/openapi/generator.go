// Package openapi builds the service's own OpenAPI 3 document, served at
// /openapi.json.
package openapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/ubiwhere/keygate/internal/config"
	"github.com/ubiwhere/keygate/internal/model"
)

// Generate builds the OpenAPI document describing the admin, gate, and
// introspection surfaces. The security scheme reflects the configured auth
// scheme so generated clients send keys the way this deployment expects.
func Generate(keys config.Keys) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Keygate API",
			Description: "API key issuance, verification, and scope authorization service.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: "/"},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:        "apiKey",
			In:          "header",
			Name:        "Authorization",
			Description: fmt.Sprintf("API key with the %q scheme: `Authorization: %s <key>`", keys.AuthScheme, keys.AuthScheme),
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	addSchemas(doc)

	doc.Paths = openapi3.NewPaths()
	addHealthPaths(doc)
	addSessionPaths(doc)
	addKeyPaths(doc)
	addCatalogPaths(doc)
	addAdminPaths(doc)
	addGatePaths(doc)

	return doc
}

// Handler returns an http.HandlerFunc serving the generated document. The
// document is built once, not per request.
func Handler(keys config.Keys) http.HandlerFunc {
	doc := Generate(keys)
	payload, err := json.Marshal(doc)

	return func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "failed to render OpenAPI document", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}
}

func addSchemas(doc *openapi3.T) {
	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    schemaOf("integer"),
							"message": schemaOf("string"),
							"context": schemaOf("object"),
						},
					},
				},
			},
		},
	}

	doc.Components.Schemas["APIKey"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":         schemaOf("integer"),
				"name":       schemaOf("string"),
				"prefix":     schemaOf("string"),
				"public_id":  schemaOf("string"),
				"expires_at": schemaOf("string"),
				"created_at": schemaOf("string"),
				"last_seen":  schemaOf("string"),
			},
		},
	}

	opEnum := make([]interface{}, 0, 4)
	for _, op := range model.Operations() {
		opEnum = append(opEnum, string(op))
	}
	doc.Components.Schemas["Operation"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"string"},
			Enum: opEnum,
		},
	}

	doc.Components.Schemas["ScopeGrant"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource_type": schemaOf("string"),
				"operations": {
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: &openapi3.SchemaRef{Ref: "#/components/schemas/Operation"},
					},
				},
			},
		},
	}

	doc.Components.Schemas["Decision"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"allowed":       schemaOf("boolean"),
				"key_id":        schemaOf("integer"),
				"key_name":      schemaOf("string"),
				"resource_type": schemaOf("string"),
				"operation":     {Ref: "#/components/schemas/Operation"},
			},
		},
	}
}

func addHealthPaths(doc *openapi3.T) {
	doc.Paths.Set("/healthz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "healthz",
			Summary:     "Liveness probe",
			Responses:   jsonResponses(map[int]string{200: "Process is running"}),
		},
	})
	doc.Paths.Set("/readyz", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "readyz",
			Summary:     "Readiness probe",
			Responses:   jsonResponses(map[int]string{200: "Store reachable", 503: "Store unreachable"}),
		},
	})
}

func addSessionPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/system/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "login",
			Summary:     "Authenticate an admin and obtain a session token",
			Responses:   jsonResponses(map[int]string{200: "Session token issued", 401: "Invalid credentials"}),
		},
		Delete: &openapi3.Operation{
			OperationID: "logout",
			Summary:     "Invalidate the current session",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Session invalidated"}),
		},
	})
}

func addKeyPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/system/keys", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listKeys",
			Summary:     "List issued API keys",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Key list"}),
		},
		Post: &openapi3.Operation{
			OperationID: "createKey",
			Summary:     "Issue a new API key; the plaintext is returned exactly once",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{201: "Key issued", 400: "Invalid request"}),
		},
	})
	doc.Paths.Set("/api/v1/system/keys/{keyID}", &openapi3.PathItem{
		Parameters: pathParams("keyID"),
		Delete: &openapi3.Operation{
			OperationID: "revokeKey",
			Summary:     "Revoke (delete) an API key",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Key revoked", 404: "Key not found"}),
		},
	})
	doc.Paths.Set("/api/v1/system/keys/{keyID}/grants", &openapi3.PathItem{
		Parameters: pathParams("keyID"),
		Get: &openapi3.Operation{
			OperationID: "getGrants",
			Summary:     "List a key's scope grants",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Grant list", 404: "Key not found"}),
		},
		Put: &openapi3.Operation{
			OperationID: "setGrants",
			Summary:     "Replace a key's scope grants wholesale",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Grants replaced", 400: "Invalid grants", 404: "Key not found"}),
		},
	})
	doc.Paths.Set("/api/v1/system/keys/{keyID}/log", &openapi3.PathItem{
		Parameters: pathParams("keyID"),
		Get: &openapi3.Operation{
			OperationID: "listKeyUsage",
			Summary:     "List a key's recent usage events",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Usage events"}),
		},
	})
}

func addCatalogPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/system/resource-types", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listResourceTypes",
			Summary:     "List the resource type catalog",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Resource types"}),
		},
		Post: &openapi3.Operation{
			OperationID: "createResourceType",
			Summary:     "Register a resource type",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{201: "Created", 409: "Already exists"}),
		},
	})
	doc.Paths.Set("/api/v1/system/resource-types/{typeID}", &openapi3.PathItem{
		Parameters: pathParams("typeID"),
		Delete: &openapi3.Operation{
			OperationID: "deleteResourceType",
			Summary:     "Remove a resource type; grants on it cascade",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Deleted", 404: "Not found"}),
		},
	})
	doc.Paths.Set("/api/v1/system/operations", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listOperations",
			Summary:     "List the fixed CRUD operation set",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Operations"}),
		},
	})
}

func addAdminPaths(doc *openapi3.T) {
	doc.Paths.Set("/api/v1/system/admins", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listAdmins",
			Summary:     "List admin accounts",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{200: "Admins"}),
		},
		Post: &openapi3.Operation{
			OperationID: "createAdmin",
			Summary:     "Create an admin account",
			Security:    bearerOnly(),
			Responses:   jsonResponses(map[int]string{201: "Created", 409: "Email already used"}),
		},
	})
}

func addGatePaths(doc *openapi3.T) {
	gateOp := func(id string) *openapi3.Operation {
		return &openapi3.Operation{
			OperationID: id,
			Summary:     "Authorize the key for the operation implied by the HTTP method",
			Security:    apiKeyOnly(),
			Responses: jsonResponses(map[int]string{
				200: "Allowed; decision payload",
				401: "Provided API key is invalid",
				403: "Provided API key is valid, but has insufficient scopes",
			}),
		}
	}
	doc.Paths.Set("/api/v1/gate/{resourceType}", &openapi3.PathItem{
		Parameters: pathParams("resourceType"),
		Get:        gateOp("gateRead"),
		Post:       gateOp("gateCreate"),
		Put:        gateOp("gateUpdate"),
		Patch:      gateOp("gateUpdatePatch"),
		Delete:     gateOp("gateDelete"),
	})

	doc.Paths.Set("/api/v1/auth/introspect", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "introspect",
			Summary:     "Verify a raw key and optionally authorize an operation on a resource type",
			Responses: jsonResponses(map[int]string{
				200: "Key is valid",
				401: "Provided API key is invalid",
				403: "Provided API key is valid, but has insufficient scopes",
			}),
		},
	})
}

func schemaOf(typ string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}}
}

func pathParams(names ...string) openapi3.Parameters {
	params := make(openapi3.Parameters, 0, len(names))
	for _, name := range names {
		params = append(params, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     name,
				In:       "path",
				Required: true,
				Schema:   schemaOf("string"),
			},
		})
	}
	return params
}

func jsonResponses(byStatus map[int]string) *openapi3.Responses {
	responses := openapi3.NewResponses()
	for status, desc := range byStatus {
		d := desc
		responses.Set(fmt.Sprintf("%d", status), &openapi3.ResponseRef{
			Value: &openapi3.Response{Description: &d},
		})
	}
	return responses
}

func bearerOnly() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{"bearerAuth": {}}}
}

func apiKeyOnly() *openapi3.SecurityRequirements {
	return &openapi3.SecurityRequirements{{"apiKey": {}}}
}
