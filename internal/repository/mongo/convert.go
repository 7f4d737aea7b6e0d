package mongo

import (
	"fmt"
	"strconv"
	"time"

	"camo/internal/domain"
	"camo/internal/domain/repositories"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
)

func toFilter(query repositories.Query) bson.M {
	if query == nil {
		return bson.M{}
	}
	return bson.M(query)
}

// toDocument drops the identifier and nil values, so sparse unique
// indexes ignore unset fields
func toDocument(record repositories.Record) bson.M {
	doc := make(bson.M, len(record)+1)
	for k, v := range record {
		if k != repositories.IDField && v != nil {
			doc[k] = v
		}
	}
	return doc
}

// updateDoc wraps plain values in $set, and nil values in $unset.
// Operator documents pass through.
func updateDoc(values repositories.Record) bson.M {
	if repositories.IsOperatorMap(values) {
		return bson.M(values)
	}
	set := bson.M{}
	unset := bson.M{}
	for k, v := range values {
		switch {
		case k == repositories.IDField:
		case v == nil:
			unset[k] = ""
		default:
			set[k] = v
		}
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func sortDoc(sorts []repositories.Sort) bson.D {
	doc := make(bson.D, 0, len(sorts))
	for _, s := range sorts {
		direction := 1
		if s.Order < 0 {
			direction = -1
		}
		doc = append(doc, bson.E{Key: s.Field, Value: direction})
	}
	return doc
}

func toRecord(doc bson.M) repositories.Record {
	record := make(repositories.Record, len(doc))
	for k, v := range doc {
		record[k] = normalize(v)
	}
	return record
}

// normalize converts decoded BSON into plain Go values
func normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case primitive.Decimal128:
		n, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return val.String()
		}
		return n
	}
	return v
}

// mapWriteError turns duplicate key failures into *domain.ConflictError
func mapWriteError(collection, action string, err error) error {
	if driver.IsDuplicateKeyError(err) {
		return &domain.ConflictError{
			Message:      fmt.Sprintf("duplicate value in %s: %v", collection, err),
			ResourceType: collection,
		}
	}
	return fmt.Errorf("%s %s: %w", action, collection, err)
}
