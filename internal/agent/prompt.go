package agent

import (
	"fmt"
	"strings"
)

// SystemPrompt builds the system message that anchors a query run: the
// database the tools operate on, an optional schema report, the querying
// rules, and the date every relative expression resolves against.
func SystemPrompt(database, schemaContext, currentDate string) string {
	var b strings.Builder

	b.WriteString("You are a MongoDB expert assistant. You have access to MongoDB tools to query and analyze data.\n")
	fmt.Fprintf(&b, "The database you're working with is: %s\n", database)
	if schemaContext != "" {
		fmt.Fprintf(&b, "The schema of the collection you are querying is:\n\n%s\n\n", schemaContext)
	}
	b.WriteString(`
When constructing MongoDB queries:
- Use proper BSON/EJSON format for special types
- Always use the database name given above
- Check the schema of the collection you are querying if you don't know the fields
- Whenever you need to use a field describing some type, first check unique values of that field

Remember that:
- You need to check the schema of the collection before performing any find or aggregate operation
- Whenever you need to use any field that is not a name or date, first check unique values of that field. This applies to all information that could be described as enums
- Check in/out events are in the events collection
`)
	fmt.Fprintf(&b, "\nThe current date is %s\n", currentDate)
	b.WriteString("\nAnalyze the user's question and use the appropriate tools to answer it.")

	return b.String()
}
