package document

import "strings"

// resourceName is the lowercase type name.
func resourceName(typeName string) string {
	return strings.ToLower(typeName)
}

// collectionName pluralizes the resource name: "es" after a trailing s or z,
// "s" otherwise. No other English rules apply ("Quiz" -> "quizes").
func collectionName(typeName string) string {
	resource := resourceName(typeName)
	if strings.HasSuffix(resource, "s") || strings.HasSuffix(resource, "z") {
		return resource + "es"
	}
	return resource + "s"
}
