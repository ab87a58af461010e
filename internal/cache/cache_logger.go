package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateExamCache invalidates all exam-related caches. Question and
// schedule entries hang off the exam, so they go too.
func InvalidateExamCache(ctx context.Context, cm *CacheManager, examID uint, courseID uint) {
	SafeDelete(ctx, cm.Exam,
		fmt.Sprintf("id:%d", examID),
		fmt.Sprintf("details:%d", examID))

	SafeInvalidatePattern(ctx, cm.Exam, fmt.Sprintf("course:%d:*", courseID))
	SafeInvalidatePattern(ctx, cm.Exam, "list:*")
	SafeInvalidatePattern(ctx, cm.Question, fmt.Sprintf("exam:%d:*", examID))
	SafeInvalidatePattern(ctx, cm.Schedule, fmt.Sprintf("exam:%d:*", examID))
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("exam:%d:*", examID))
}

// InvalidateScheduleCache invalidates schedule lookups for an exam.
func InvalidateScheduleCache(ctx context.Context, cm *CacheManager, scheduleID uint, examID uint) {
	SafeDelete(ctx, cm.Schedule, fmt.Sprintf("id:%d", scheduleID))
	SafeInvalidatePattern(ctx, cm.Schedule, fmt.Sprintf("exam:%d:*", examID))
	SafeInvalidatePattern(ctx, cm.Schedule, "list:*")
}

// InvalidateAttemptCache invalidates attempt state after a submit, timeout
// or verification. Stats aggregates for the exam and the verification queue
// are derived from attempts, so they go stale at the same moments.
func InvalidateAttemptCache(ctx context.Context, cm *CacheManager, attemptID uint, studentID uint, examID uint) {
	SafeDelete(ctx, cm.Fast, fmt.Sprintf("attempt:%d", attemptID))
	SafeInvalidatePattern(ctx, cm.Fast, fmt.Sprintf("attempt:%d:*", attemptID))
	SafeInvalidatePattern(ctx, cm.Fast, fmt.Sprintf("attempt:student:%d:*", studentID))
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("exam:%d:*", examID))
	SafeInvalidatePattern(ctx, cm.Stats, "verification:*")
}
