package vector

import (
	"context"
	"strings"
	"unicode"

	"github.com/weaviate/weaviate/entities/models"
)

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// ClassName maps a collection name such as "study_materials" to a valid
// Weaviate class name ("StudyMaterials").
func ClassName(collection string) string {
	var b strings.Builder
	upper := true
	for _, r := range collection {
		if r == '_' || r == '-' || r == ' ' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "DocumentChunk"
	}
	return b.String()
}

func chunkProperties() []*models.Property {
	// Identifiers use field tokenization so Equal filters match the whole value.
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "fileId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "roomId", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "totalChunks", DataType: []string{"int"}},
		{Name: "sectionTitle", DataType: []string{"text"}},
		{Name: "documentType", DataType: []string{"text"}, Tokenization: "field"},
		{Name: "charCount", DataType: []string{"int"}},
		{Name: "createdAt", DataType: []string{"date"}},
	}
}

// EnsureSchema creates the chunk class or adds any properties it is missing.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := chunkProperties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A chunk of an uploaded study document",
			Vectorizer:  "none",
			Properties:  properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}
