package orm

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DecodeSchemas parses model declarations of the form
//
//	User:
//	  email: String
//	  logins: Integer
//	  habtm:
//	    - {model: Post, method: posts, inverse_of: authors}
//
// Model order and attribute order follow the document. Relationship groups
// (habtm, has_many, belongs_to, has_one) must be sequences.
func DecodeSchemas(data []byte) ([]Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("orm: decode schemas: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &ConfigError{Err: fmt.Errorf("line %d: expected a mapping of model names", root.Line)}
	}
	schemas := make([]Schema, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		s, err := decodeSchema(root.Content[i].Value, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

func decodeSchema(name string, body *yaml.Node) (Schema, error) {
	s := Schema{Name: name}
	if body.Kind == yaml.ScalarNode && body.Tag == "!!null" {
		return s, nil
	}
	if body.Kind != yaml.MappingNode {
		return s, &ConfigError{Model: name, Err: fmt.Errorf("line %d: expected a mapping of attributes", body.Line)}
	}
	for i := 0; i+1 < len(body.Content); i += 2 {
		key, value := body.Content[i].Value, body.Content[i+1]
		if _, ok := groupKinds[key]; ok {
			if value.Kind != yaml.SequenceNode {
				return s, &ConfigError{Model: name, Field: key, Err: ErrNotSequence}
			}
			var decls []RelationDecl
			if err := value.Decode(&decls); err != nil {
				return s, &ConfigError{Model: name, Field: key, Err: err}
			}
			switch key {
			case GroupHABTM:
				s.HABTM = append(s.HABTM, decls...)
			case GroupHasMany:
				s.HasMany = append(s.HasMany, decls...)
			case GroupBelongsTo:
				s.BelongsTo = append(s.BelongsTo, decls...)
			case GroupHasOne:
				s.HasOne = append(s.HasOne, decls...)
			}
			continue
		}
		if value.Kind != yaml.ScalarNode {
			return s, &ConfigError{Model: name, Field: key, Err: errors.New("attribute type must be a scalar")}
		}
		typ, err := ParseAttrType(value.Value)
		if err != nil {
			return s, &ConfigError{Model: name, Field: key, Err: err}
		}
		s.Attributes = append(s.Attributes, AttributeDecl{Name: key, Type: typ})
	}
	return s, nil
}
