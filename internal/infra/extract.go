package infra

import "strings"

// Fence is the delimiter that marks a code block in provider responses.
const Fence = "```"

// ExtractCode trims prose around a fenced code block. When the response holds
// at least two fences it returns everything from the first fence through the
// end of the last one, fences included. Otherwise the response is returned
// unchanged.
func ExtractCode(response string) string {
	first := strings.Index(response, Fence)
	last := strings.LastIndex(response, Fence)
	if first < 0 || last <= first {
		return response
	}
	return response[first : last+len(Fence)]
}
