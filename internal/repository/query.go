package repository

import (
	"fmt"
	"strings"
)

// placeholders renders "$1,$2,...,$n" starting at offset+1.
func placeholders(n, offset int) string {
	values := make([]string, n)
	for i := 1; i <= n; i++ {
		values[i-1] = fmt.Sprintf("$%d", i+offset)
	}
	return strings.Join(values, ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
