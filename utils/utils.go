package utils

import (
	"os"
	"regexp"
	"strconv"
	"time"
)

// Environment utilities
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

var qidPattern = regexp.MustCompile(`^\d{8}-\d{3}$`)

// ValidQID reports whether s has the "YYYYMMDD-NNN" question id format.
func ValidQID(s string) bool {
	return qidPattern.MatchString(s)
}

// ValidDayStamp reports whether d is an 8-digit YYYYMMDD day stamp.
// The calendar itself is not checked; the server trusts client days verbatim.
func ValidDayStamp(d int) bool {
	return d >= 10000101 && d <= 99991231
}

// TodayStamp returns the current local calendar date as YYYYMMDD.
// Local time, not UTC: the day boundary follows the learner's clock.
func TodayStamp() int {
	now := time.Now()
	return now.Year()*10000 + int(now.Month())*100 + now.Day()
}

// ValidExamDate reports whether s is a real calendar date in YYYY-MM-DD form.
func ValidExamDate(s string) bool {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return false
	}
	return t.Format("2006-01-02") == s
}
