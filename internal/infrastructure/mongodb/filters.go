package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// timeRange builds a $gte/$lte filter, or nil when both bounds are absent.
func timeRange(from, to *time.Time) bson.M {
	if from == nil && to == nil {
		return nil
	}
	rangeFilter := bson.M{}
	if from != nil {
		rangeFilter["$gte"] = *from
	}
	if to != nil {
		rangeFilter["$lte"] = *to
	}
	return rangeFilter
}
