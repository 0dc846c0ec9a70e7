package answer

import (
	"fmt"
	"strings"
)

// BuildPrompt combines retrieved passages and the question into a grounded
// prompt, constraining the generator to the supplied evidence.
func BuildPrompt(question string, passages []string) string {
	context := strings.Join(passages, " ")
	return fmt.Sprintf("Context: %s\nQuestion: %s\nAnswer:", context, question)
}
