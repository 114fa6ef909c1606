package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func AnalysisStatusKey(imageID uuid.UUID) string {
	return fmt.Sprintf("analysis:status:%s", imageID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func DashboardKey(userID uuid.UUID) string {
	return fmt.Sprintf("dashboard:%s", userID)
}
