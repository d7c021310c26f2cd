package storage

import (
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// Embeddings are kept in pgvector's text form ("[0.1,0.2]") in a nullable
// TEXT column. An absent vector is always NULL, never "[]".

func encodeVector(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func decodeVector(ns sql.NullString) ([]float32, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(ns.String); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	out := v.Slice()
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
