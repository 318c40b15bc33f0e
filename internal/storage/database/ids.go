package database

import (
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var objectIDPattern = regexp.MustCompile("^[a-fA-F0-9]{24}$")

// NewObjectID 產生新的對話或訊息 ID，格式與 MongoDB ObjectID 相同，各後端通用.
func NewObjectID() string {
	return bson.NewObjectID().Hex()
}

// ValidateObjectID 驗證 MongoDB ObjectID 格式
func ValidateObjectID(id string) error {
	if !objectIDPattern.MatchString(id) {
		return fmt.Errorf("無效的 ObjectID 格式: %q", id)
	}
	return nil
}
