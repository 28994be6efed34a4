package api

import (
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/maiden/internal/core/domain"
	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// OpenAPI Document
// =============================================================================

// apiModels are published under components/schemas by their Go type name.
var apiModels = []any{
	HealthResponse{},
	ReadyResponse{},
	ErrorResponse{},
	EnvironmentResponse{},
	ListEnvironmentsResponse{},
	domain.ReleaseRecord{},
	ListReleasesResponse{},
}

// NewOpenAPIDocument describes the status API. Schemas are reflected from the
// response types so the document follows them.
func NewOpenAPIDocument(version string) *openapi3.T {
	b := newSchemaBuilder(apiModels...)

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "maiden status API",
			Version:     version,
			Description: "Read-only view of configured environments and release history",
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: b.schemas,
		},
	}

	errorResp := response(http.StatusInternalServerError, "Store failure", b.ref(ErrorResponse{}))

	doc.Paths.Set("/health", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getHealth",
			Summary:     "Liveness check",
			Tags:        []string{"Health"},
			Responses:   responses(response(http.StatusOK, "Service is alive", b.ref(HealthResponse{}))),
		},
	})
	doc.Paths.Set("/ready", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getReady",
			Summary:     "Readiness check against the history store",
			Tags:        []string{"Health"},
			Responses: responses(
				response(http.StatusOK, "History store reachable", b.ref(ReadyResponse{})),
				response(http.StatusServiceUnavailable, "History store unreachable", b.ref(ReadyResponse{})),
			),
		},
	})
	doc.Paths.Set("/api/v1/environments", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listEnvironments",
			Summary:     "List environments with their installed version",
			Tags:        []string{"Environments"},
			Responses: responses(
				response(http.StatusOK, "Configured environments", b.ref(ListEnvironmentsResponse{})),
				errorResp,
			),
		},
	})
	doc.Paths.Set("/api/v1/releases", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listReleases",
			Summary:     "List release records, newest first",
			Tags:        []string{"Releases"},
			Parameters: openapi3.Parameters{
				queryParameter("environment", openapi3.NewStringSchema()),
				queryParameter("operation", openapi3.NewStringSchema().WithEnum(
					string(domain.OperationSetup),
					string(domain.OperationBuild),
					string(domain.OperationInstall),
					string(domain.OperationDeploy),
				)),
				queryParameter("limit", openapi3.NewIntegerSchema()),
				queryParameter("offset", openapi3.NewIntegerSchema()),
			},
			Responses: responses(
				response(http.StatusOK, "Release records", b.ref(ListReleasesResponse{})),
				response(http.StatusBadRequest, "Unknown environment or operation", b.ref(ErrorResponse{})),
				errorResp,
			),
		},
	})
	doc.Paths.Set("/api/v1/releases/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema()),
			},
		},
		Get: &openapi3.Operation{
			OperationID: "getRelease",
			Summary:     "Get a release record",
			Tags:        []string{"Releases"},
			Responses: responses(
				response(http.StatusOK, "Release record", b.ref(domain.ReleaseRecord{})),
				response(http.StatusNotFound, "No such release", b.ref(ErrorResponse{})),
				errorResp,
			),
		},
	})

	return doc
}

func (h *Handler) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.openapi)
}

// =============================================================================
// Helpers
// =============================================================================

type statusResponse struct {
	status int
	ref    *openapi3.ResponseRef
}

func response(status int, description string, schema *openapi3.SchemaRef) statusResponse {
	return statusResponse{
		status: status,
		ref: &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription(description).WithJSONSchemaRef(schema),
		},
	}
}

func responses(entries ...statusResponse) *openapi3.Responses {
	r := &openapi3.Responses{}
	for _, e := range entries {
		r.Set(strconv.Itoa(e.status), e.ref)
	}
	return r
}

func queryParameter(name string, schema *openapi3.Schema) *openapi3.ParameterRef {
	return &openapi3.ParameterRef{Value: openapi3.NewQueryParameter(name).WithSchema(schema)}
}

// =============================================================================
// Schema Reflection
// =============================================================================

type schemaBuilder struct {
	named   map[reflect.Type]bool
	schemas openapi3.Schemas
}

func newSchemaBuilder(models ...any) *schemaBuilder {
	b := &schemaBuilder{
		named:   make(map[reflect.Type]bool, len(models)),
		schemas: make(openapi3.Schemas, len(models)),
	}
	for _, m := range models {
		b.named[reflect.TypeOf(m)] = true
	}
	for _, m := range models {
		b.component(reflect.TypeOf(m))
	}
	return b
}

// ref returns a reference to model's component schema.
func (b *schemaBuilder) ref(model any) *openapi3.SchemaRef {
	return b.component(reflect.TypeOf(model))
}

func (b *schemaBuilder) component(t reflect.Type) *openapi3.SchemaRef {
	name := t.Name()
	if _, ok := b.schemas[name]; !ok {
		// Reserve the name first so self-referencing types terminate.
		b.schemas[name] = &openapi3.SchemaRef{Value: &openapi3.Schema{}}
		*b.schemas[name].Value = *b.structSchema(t)
	}
	return openapi3.NewSchemaRef("#/components/schemas/"+name, b.schemas[name].Value)
}

func (b *schemaBuilder) structSchema(t reflect.Type) *openapi3.Schema {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = field.Name
		}
		schema.Properties[name] = b.typeSchema(field.Type)
		if !strings.Contains(opts, "omitempty") {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func (b *schemaBuilder) typeSchema(t reflect.Type) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.String:
		return openapi3.NewStringSchema().NewRef()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return openapi3.NewIntegerSchema().NewRef()
	case reflect.Float32, reflect.Float64:
		return openapi3.NewFloat64Schema().NewRef()
	case reflect.Bool:
		return openapi3.NewBoolSchema().NewRef()
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: b.typeSchema(t.Elem()),
		}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: b.typeSchema(t.Elem())},
		}}
	case reflect.Ptr:
		elem := b.typeSchema(t.Elem())
		if elem.Ref == "" {
			elem.Value.Nullable = true
		}
		return elem
	case reflect.Struct:
		if t == reflect.TypeOf(time.Time{}) {
			return openapi3.NewDateTimeSchema().NewRef()
		}
		if b.named[t] {
			return b.component(t)
		}
		return &openapi3.SchemaRef{Value: b.structSchema(t)}
	default:
		return openapi3.NewObjectSchema().NewRef()
	}
}
