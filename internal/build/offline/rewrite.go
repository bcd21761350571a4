package offline

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// cdnHosts are the hostnames that mark a document as network-dependent.
var cdnHosts = []string{
	"unpkg.com",
	"cdn.jsdelivr.net",
	"cdnjs.cloudflare.com",
	"cdn.tailwindcss.com",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
}

// vendorAsset maps a CDN script to the pinned copy bundled with the app.
// bases are matched against the leading part of the script's file name.
type vendorAsset struct {
	bases []string
	file  string
	url   string
}

// vendorAssets is the rewrite table. Order matters: react-dom has to be
// matched before react.
var vendorAssets = []vendorAsset{
	{
		bases: []string{"react-dom"},
		file:  "react-dom.production.min.js",
		url:   "https://unpkg.com/react-dom@18/umd/react-dom.production.min.js",
	},
	{
		bases: []string{"react.", "react@"},
		file:  "react.production.min.js",
		url:   "https://unpkg.com/react@18/umd/react.production.min.js",
	},
}

// NeedsOfflineify reports whether a document depends on the network:
// known CDN hosts, in-browser Babel compilation, or a Google Fonts
// stylesheet import.
func NeedsOfflineify(content string) bool {
	for _, host := range cdnHosts {
		if strings.Contains(content, host) {
			return true
		}
	}
	if strings.Contains(content, "text/babel") {
		return true
	}
	if strings.Contains(content, "@import") && strings.Contains(content, "fonts.googleapis.com") {
		return true
	}
	return false
}

// rewriteResult carries everything the conversion needs after the single
// pass over the document.
type rewriteResult struct {
	html     string
	babel    string
	assets   []vendorAsset
	tailwind bool
}

type scriptAction int

const (
	scriptKeep scriptAction = iota
	scriptVendor
	scriptStrip
	scriptStylesheet
	scriptCompile
)

// rewriteHTML walks the document once, replacing known CDN script tags
// with local vendor references, capturing the first text/babel block for
// compilation, and dropping Google Fonts references. Untouched markup is
// passed through byte for byte.
func (o *Offliner) rewriteHTML(src string) (*rewriteResult, error) {
	res := &rewriteResult{}
	seen := make(map[string]bool)

	var out strings.Builder
	out.Grow(len(src))

	var (
		inStyle    bool
		inScript   bool
		skipText   bool
		capture    bool
		babelSeen  bool
		emitAtEnd  string
		babelBlock strings.Builder
	)

	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to parse html: %w", z.Err())
		}
		raw := string(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script":
				action, asset := classifyScript(tok)
				selfClosing := tt == html.SelfClosingTagToken
				if !selfClosing {
					inScript = true
					skipText = true
					emitAtEnd = ""
					capture = false
				}
				switch action {
				case scriptKeep:
					out.WriteString(raw)
					skipText = false
					inScript = false
				case scriptVendor:
					fmt.Fprintf(&out, `<script src="./vendor/%s"></script>`, asset.file)
					if !seen[asset.file] {
						seen[asset.file] = true
						res.assets = append(res.assets, *asset)
					}
				case scriptStrip:
					// Dropped outright.
				case scriptStylesheet:
					out.WriteString(`<link rel="stylesheet" href="./vendor/tailwind.min.css">`)
					res.tailwind = true
				case scriptCompile:
					if !babelSeen {
						babelSeen = true
						capture = true
						emitAtEnd = `<script src="./app.js"></script>`
					} else {
						o.log.Warn().Msg("ignoring additional text/babel block, only the first is compiled")
					}
				}
			case "link":
				if isFontLink(attrVal(tok, "href")) {
					continue
				}
				out.WriteString(raw)
			case "style":
				inStyle = true
				out.WriteString(raw)
			default:
				out.WriteString(raw)
			}

		case html.TextToken:
			switch {
			case inScript && capture:
				babelBlock.WriteString(raw)
			case inScript && skipText:
				// Replaced or dropped script body.
			case inStyle:
				out.WriteString(stripFontImports(raw))
			default:
				out.WriteString(raw)
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script":
				if inScript {
					if capture {
						code := babelBlock.String()
						babelBlock.Reset()
						if strings.TrimSpace(code) != "" {
							res.babel = code
							out.WriteString(emitAtEnd)
						}
					} else {
						out.WriteString(emitAtEnd)
					}
					inScript, skipText, capture, emitAtEnd = false, false, false, ""
				} else {
					out.WriteString(raw)
				}
			case "style":
				inStyle = false
				out.WriteString(raw)
			default:
				out.WriteString(raw)
			}

		default:
			out.WriteString(raw)
		}
	}

	res.html = out.String()
	return res, nil
}

// classifyScript decides what happens to a script tag.
func classifyScript(tok html.Token) (scriptAction, *vendorAsset) {
	src := attrVal(tok, "src")
	if src != "" {
		if !fromCDN(src) {
			return scriptKeep, nil
		}
		if strings.Contains(src, "cdn.tailwindcss.com") {
			return scriptStylesheet, nil
		}
		if strings.Contains(src, "babel") {
			return scriptStrip, nil
		}
		if asset := lookupVendor(src); asset != nil {
			return scriptVendor, asset
		}
		return scriptKeep, nil
	}
	if strings.EqualFold(attrVal(tok, "type"), "text/babel") {
		return scriptCompile, nil
	}
	return scriptKeep, nil
}

func lookupVendor(src string) *vendorAsset {
	u, err := url.Parse(src)
	if err != nil {
		return nil
	}
	base := path.Base(u.Path)
	for i := range vendorAssets {
		for _, prefix := range vendorAssets[i].bases {
			if strings.HasPrefix(base, prefix) {
				return &vendorAssets[i]
			}
		}
	}
	return nil
}

func fromCDN(src string) bool {
	for _, host := range cdnHosts {
		if strings.Contains(src, host) {
			return true
		}
	}
	return false
}

func isFontLink(href string) bool {
	return strings.Contains(href, "fonts.googleapis.com") || strings.Contains(href, "fonts.gstatic.com")
}

// stripFontImports removes @import lines pulling Google Fonts from
// inline stylesheets.
func stripFontImports(css string) string {
	if !strings.Contains(css, "@import") {
		return css
	}
	lines := strings.Split(css, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.Contains(line, "@import") && strings.Contains(line, "fonts.googleapis.com") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func attrVal(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
