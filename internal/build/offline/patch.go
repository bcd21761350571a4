package offline

import "strings"

const (
	viewportMeta = `<meta name="viewport" content="width=device-width, initial-scale=1, maximum-scale=1, user-scalable=no, viewport-fit=cover">`
	cspMeta      = `<meta http-equiv="Content-Security-Policy" content="default-src * 'self' 'unsafe-inline' 'unsafe-eval' data: gap: content:">`
	cordovaTag   = `<script src="cordova.js"></script>`
)

// PrepareForShell patches a page so it behaves inside the native shell:
// a mobile viewport, a permissive content security policy, and the
// cordova.js bridge before </body>. Each patch checks for presence
// first, so applying the function twice changes nothing.
func PrepareForShell(doc string) string {
	doc = ensureViewport(doc)
	doc = ensureCSP(doc)
	doc = ensureCordovaScript(doc)
	return doc
}

func ensureViewport(doc string) string {
	lower := strings.ToLower(doc)
	if strings.Contains(lower, `name="viewport"`) || strings.Contains(lower, `name='viewport'`) {
		return doc
	}
	return insertInHead(doc, viewportMeta)
}

func ensureCSP(doc string) string {
	if strings.Contains(strings.ToLower(doc), "content-security-policy") {
		return doc
	}
	return insertInHead(doc, cspMeta)
}

func ensureCordovaScript(doc string) string {
	if strings.Contains(strings.ToLower(doc), "cordova.js") {
		return doc
	}
	idx := strings.LastIndex(strings.ToLower(doc), "</body>")
	if idx < 0 {
		return doc + "\n" + cordovaTag + "\n"
	}
	return doc[:idx] + "  " + cordovaTag + "\n" + doc[idx:]
}

// insertInHead places the snippet right after the opening head tag,
// falling back to the top of the document when the page has none.
func insertInHead(doc, snippet string) string {
	lower := strings.ToLower(doc)
	idx := strings.Index(lower, "<head")
	if idx >= 0 {
		if end := strings.Index(doc[idx:], ">"); end >= 0 {
			pos := idx + end + 1
			return doc[:pos] + "\n  " + snippet + doc[pos:]
		}
	}
	return snippet + "\n" + doc
}
