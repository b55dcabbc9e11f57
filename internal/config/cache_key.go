package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptStateKey returns the hash holding one category's working attempt state
func (r *CacheKeyStruct) AttemptStateKey(studentID int, examID, category string) string {
	return fmt.Sprintf("student:%d:exam:%s:category:%s:attempt", studentID, examID, category)
}

// AttemptStatusKey returns the hash holding the exam-level completed/dismissed status
func (r *CacheKeyStruct) AttemptStatusKey(studentID int, examID string) string {
	return fmt.Sprintf("student:%d:exam:%s:attempt_status", studentID, examID)
}

// AttemptStatePattern matches every category of one student's exam
func (r *CacheKeyStruct) AttemptStatePattern(studentID int, examID string) string {
	return fmt.Sprintf("student:%d:exam:%s:category:*:attempt", studentID, examID)
}

// StudentSessionKey holds the JTI of the student's single active session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("student:%d:session", studentID)
}

var CacheKey = NewCacheKeyStruct()
