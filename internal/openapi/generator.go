// Package openapi builds the OpenAPI document of the keygate HTTP surface.
package openapi

import (
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Paths of the HTTP surface.
const (
	PathNewKey    = "/api/v1/auth/new"
	PathRevokeKey = "/api/v1/auth/revoke"
	PathRenewKey  = "/api/v1/auth/renew"
	PathUsageLogs = "/api/v1/auth/logs"
	PathSecure    = "/api/v1/secure"
	PathUnsecure  = "/api/v1/unsecure"
	PathHealthz   = "/healthz"
	PathReadyz    = "/readyz"
)

// Security scheme names used in the document.
const (
	SchemeAPIKeyQuery  = "apiKeyQuery"
	SchemeAPIKeyHeader = "apiKeyHeader"
	SchemeAdminSecret  = "adminSecret"
)

// Options controls document generation.
type Options struct {
	Title        string
	Version      string
	BaseURL      string
	APIKeyName   string
	SecretHeader string
	// HideAdmin omits the key management endpoints from the document. The
	// routes keep working.
	HideAdmin bool
}

func (o *Options) defaults() {
	if o.Title == "" {
		o.Title = "keygate API"
	}
	if o.Version == "" {
		o.Version = "1.0.0"
	}
	if o.APIKeyName == "" {
		o.APIKeyName = "api-key"
	}
	if o.SecretHeader == "" {
		o.SecretHeader = "secret-key"
	}
}

// Generate returns the OpenAPI 3 document of the service.
func Generate(opts Options) *openapi3.T {
	opts.defaults()

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       opts.Title,
			Description: "API key issuance, revocation, renewal and validation.",
			Version:     opts.Version,
		},
	}
	if opts.BaseURL != "" {
		doc.Servers = openapi3.Servers{{URL: opts.BaseURL}}
	}

	components := openapi3.NewComponents()
	components.Schemas = componentSchemas()
	components.SecuritySchemes = openapi3.SecuritySchemes{
		SchemeAPIKeyQuery: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "query", Name: opts.APIKeyName},
		},
		SchemeAPIKeyHeader: &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: opts.APIKeyName},
		},
	}
	doc.Components = &components
	doc.Paths = openapi3.NewPaths()

	if !opts.HideAdmin {
		doc.Components.SecuritySchemes[SchemeAdminSecret] = &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{Type: "apiKey", In: "header", Name: opts.SecretHeader},
		}
		addAdminPaths(doc, opts)
	}
	addPublicPaths(doc)
	linkSchemaRefs(doc)

	return doc
}

// ─── Paths ──────────────────────────────────────────────────────────────────

func addAdminPaths(doc *openapi3.T, opts Options) {
	adminSecurity := &openapi3.SecurityRequirements{{SchemeAdminSecret: {}}}

	newKey := &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Issue a new API key",
		OperationID: "newApiKey",
		Parameters: openapi3.Parameters{
			queryParam("username", "Owner name of the key.", openapi3.NewStringSchema()),
			queryParam("email", "Owner email of the key.", openapi3.NewStringSchema()),
			queryParam("password", "Owner password. Needs 9+ characters with a digit, an uppercase letter and a special character.", openapi3.NewStringSchema()),
			queryParam("never_expires", "Issue a key that is never considered expired.", openapi3.NewBoolSchema()),
		},
		RequestBody: &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithDescription("Owner metadata. Query parameters are accepted instead.").
				WithJSONSchemaRef(schemaRef("NewKeyRequest")),
		},
		Security: adminSecurity,
		Responses: responses("201", "Key issued", schemaRef("NewKeyResponse"),
			"400", "Invalid email or weak password",
			"403", "Missing or wrong secret",
			"409", "The owner already has a key",
			"503", "Key store unavailable"),
	}
	doc.Paths.Set(PathNewKey, &openapi3.PathItem{Post: newKey})

	revoke := &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Revoke an API key",
		OperationID: "revokeApiKey",
		Parameters: openapi3.Parameters{
			requiredQueryParam(opts.APIKeyName, "The API key to revoke."),
		},
		Security: adminSecurity,
		Responses: responses("200", "Key revoked", schemaRef("RevokeResponse"),
			"403", "Missing or wrong secret",
			"404", "API key not found",
			"503", "Key store unavailable"),
	}
	doc.Paths.Set(PathRevokeKey, &openapi3.PathItem{Post: revoke})

	renew := &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Renew an API key, reactivating it if it was revoked",
		OperationID: "renewApiKey",
		Parameters: openapi3.Parameters{
			requiredQueryParam(opts.APIKeyName, "The API key to renew."),
			queryParam("expiration-date", "New expiration date in ISO 8601. Defaults to one expiration window from now.", openapi3.NewStringSchema()),
		},
		Security: adminSecurity,
		Responses: responses("200", "Key renewed", schemaRef("RenewResponse"),
			"403", "Missing or wrong secret",
			"404", "API key not found",
			"422", "The expiration date could not be parsed",
			"503", "Key store unavailable"),
	}
	doc.Paths.Set(PathRenewKey, &openapi3.PathItem{Post: renew})

	logs := &openapi3.Operation{
		Tags:        []string{"keys"},
		Summary:     "Usage statistics of every key",
		OperationID: "usageLogs",
		Security:    adminSecurity,
		Responses: responses("200", "Usage logs, most recently used first", schemaRef("UsageLogs"),
			"403", "Missing or wrong secret",
			"503", "Key store unavailable"),
	}
	doc.Paths.Set(PathUsageLogs, &openapi3.PathItem{Get: logs})
}

func addPublicPaths(doc *openapi3.T) {
	secure := &openapi3.Operation{
		Tags:        []string{"demo"},
		Summary:     "Endpoint protected by an API key",
		OperationID: "secureEndpoint",
		Security: &openapi3.SecurityRequirements{
			{SchemeAPIKeyQuery: {}},
			{SchemeAPIKeyHeader: {}},
		},
		Responses: responses("200", "Authenticated", schemaRef("Message"),
			"403", "Missing, wrong, revoked or expired API key",
			"503", "Key store unavailable"),
	}
	doc.Paths.Set(PathSecure, &openapi3.PathItem{Get: secure})

	unsecure := &openapi3.Operation{
		Tags:        []string{"demo"},
		Summary:     "Endpoint open to everyone",
		OperationID: "unsecureEndpoint",
		Security:    &openapi3.SecurityRequirements{},
		Responses:   responses("200", "Hello", schemaRef("Message")),
	}
	doc.Paths.Set(PathUnsecure, &openapi3.PathItem{Get: unsecure})

	healthz := &openapi3.Operation{
		Tags:        []string{"health"},
		Summary:     "Liveness probe",
		OperationID: "healthz",
		Security:    &openapi3.SecurityRequirements{},
		Responses:   responses("200", "Process is running", schemaRef("Health")),
	}
	doc.Paths.Set(PathHealthz, &openapi3.PathItem{Get: healthz})

	readyz := &openapi3.Operation{
		Tags:        []string{"health"},
		Summary:     "Readiness probe, pings the key store",
		OperationID: "readyz",
		Security:    &openapi3.SecurityRequirements{},
		Responses: responses("200", "Key store reachable", schemaRef("Health"),
			"503", "Key store unreachable"),
	}
	doc.Paths.Set(PathReadyz, &openapi3.PathItem{Get: readyz})
}

// ─── Schemas ────────────────────────────────────────────────────────────────

func componentSchemas() openapi3.Schemas {
	str := func(desc string) *openapi3.SchemaRef {
		s := openapi3.NewStringSchema()
		s.Description = desc
		return s.NewRef()
	}
	dateTime := func(desc string) *openapi3.SchemaRef {
		s := openapi3.NewStringSchema()
		s.Description = desc + " UTC, second precision, no zone suffix."
		return s.NewRef()
	}

	nullableDate := dateTime("Last successful validation.")
	nullableDate.Value.Nullable = true

	return openapi3.Schemas{
		"ErrorResponse": objectSchema(nil, openapi3.Schemas{
			"error": objectSchema([]string{"code", "message"}, openapi3.Schemas{
				"code":    openapi3.NewInt32Schema().NewRef(),
				"message": openapi3.NewStringSchema().NewRef(),
				"context": openapi3.NewObjectSchema().NewRef(),
			}),
		}),
		"NewKeyRequest": objectSchema(nil, openapi3.Schemas{
			"username":      str("Owner name, unique across keys."),
			"email":         str("Owner email, unique across keys."),
			"password":      str("Owner password, stored as a bcrypt hash."),
			"never_expires": openapi3.NewBoolSchema().NewRef(),
		}),
		"NewKeyResponse": objectSchema([]string{"api_key"}, openapi3.Schemas{
			"api_key": str("The new key. Shown only once."),
		}),
		"RevokeResponse": objectSchema([]string{"success", "message"}, openapi3.Schemas{
			"success": openapi3.NewBoolSchema().NewRef(),
			"message": openapi3.NewStringSchema().NewRef(),
		}),
		"RenewResponse": objectSchema([]string{"message", "expiration_date", "reactivated"}, openapi3.Schemas{
			"message":         openapi3.NewStringSchema().NewRef(),
			"expiration_date": dateTime("New expiration date."),
			"reactivated":     openapi3.NewBoolSchema().NewRef(),
		}),
		"UsageLog": objectSchema([]string{"api_key", "is_active", "never_expire", "state", "expiration_date", "latest_query_date", "total_queries"}, openapi3.Schemas{
			"api_key":           openapi3.NewStringSchema().NewRef(),
			"username":          openapi3.NewStringSchema().NewRef(),
			"email":             openapi3.NewStringSchema().NewRef(),
			"is_active":         openapi3.NewBoolSchema().NewRef(),
			"never_expire":      openapi3.NewBoolSchema().NewRef(),
			"state":             openapi3.NewStringSchema().WithEnum("active", "expired", "revoked").NewRef(),
			"expiration_date":   dateTime("Expiration date."),
			"latest_query_date": nullableDate,
			"total_queries":     openapi3.NewInt64Schema().NewRef(),
		}),
		"UsageLogs": objectSchema([]string{"logs"}, openapi3.Schemas{
			"logs": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"array"}, Items: schemaRef("UsageLog")}},
		}),
		"Message": objectSchema([]string{"message"}, openapi3.Schemas{
			"message": openapi3.NewStringSchema().NewRef(),
		}),
		"Health": objectSchema([]string{"status"}, openapi3.Schemas{
			"status": openapi3.NewStringSchema().NewRef(),
			"error":  openapi3.NewStringSchema().NewRef(),
		}),
	}
}

func objectSchema(required []string, props openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:       &openapi3.Types{"object"},
			Required:   required,
			Properties: props,
		},
	}
}

const schemaRefPrefix = "#/components/schemas/"

func schemaRef(name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef(schemaRefPrefix+name, nil)
}

// linkSchemaRefs points every component reference in doc at its schema, so
// the in-memory document validates without a serialize and load round trip.
func linkSchemaRefs(doc *openapi3.T) {
	schemas := doc.Components.Schemas
	seen := make(map[*openapi3.Schema]bool)

	var link func(ref *openapi3.SchemaRef)
	link = func(ref *openapi3.SchemaRef) {
		if ref == nil {
			return
		}
		if ref.Value == nil && strings.HasPrefix(ref.Ref, schemaRefPrefix) {
			if target, ok := schemas[strings.TrimPrefix(ref.Ref, schemaRefPrefix)]; ok {
				ref.Value = target.Value
			}
		}
		if ref.Value == nil || seen[ref.Value] {
			return
		}
		seen[ref.Value] = true
		for _, prop := range ref.Value.Properties {
			link(prop)
		}
		link(ref.Value.Items)
	}
	linkContent := func(content openapi3.Content) {
		for _, mt := range content {
			link(mt.Schema)
		}
	}

	for _, s := range schemas {
		link(s)
	}
	for _, item := range doc.Paths.Map() {
		for _, op := range item.Operations() {
			for _, p := range op.Parameters {
				if p.Value != nil {
					link(p.Value.Schema)
				}
			}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				linkContent(op.RequestBody.Value.Content)
			}
			if op.Responses == nil {
				continue
			}
			for _, resp := range op.Responses.Map() {
				if resp.Value != nil {
					linkContent(resp.Value.Content)
				}
			}
		}
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func queryParam(name, desc string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).WithDescription(desc).WithSchema(schema),
	}
}

func requiredQueryParam(name, desc string) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{
		Value: openapi3.NewQueryParameter(name).
			WithDescription(desc).
			WithRequired(true).
			WithSchema(openapi3.NewStringSchema()),
	}
}

// responses builds a Responses object from a success status, its description
// and schema, followed by pairs of error status and description.
func responses(status, description string, schema *openapi3.SchemaRef, errs ...string) *openapi3.Responses {
	out := openapi3.NewResponsesWithCapacity(1 + len(errs)/2)

	desc := description
	out.Set(status, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &desc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := schemaRef("ErrorResponse")
	for i := 0; i+1 < len(errs); i += 2 {
		d := errs[i+1]
		out.Set(errs[i], &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
			},
		})
	}
	return out
}
