package report

import "strings"

// Footer returns the instructions appended to every agent prompt so that the
// final output can be parsed by Parse.
func Footer() string {
	var sb strings.Builder

	sb.WriteString("\n\n---\n")
	sb.WriteString("## Required Final Output\n")
	sb.WriteString("When you are done, end your response with exactly one of the blocks below.\n")
	sb.WriteString("Do not wrap the block in a code fence.\n\n")

	sb.WriteString("On success:\n")
	sb.WriteString(MarkerComplete + "\n")
	sb.WriteString("Result: <one or two sentences describing what you did>\n")
	sb.WriteString("Files Created: <one absolute path per line, or none>\n")
	sb.WriteString("URLs: <one URL per line, or none>\n")
	sb.WriteString("Notes: <anything the user should know>\n\n")

	sb.WriteString("On failure:\n")
	sb.WriteString(MarkerError + "\n")
	sb.WriteString("Result: <what you attempted>\n")
	sb.WriteString("Files Created: <one absolute path per line, or none>\n")
	sb.WriteString("URLs: <one URL per line, or none>\n")
	sb.WriteString("Notes: <anything the user should know>\n")
	sb.WriteString("Error: <why the task could not be completed>\n")

	return sb.String()
}
