// Package rewrite localizes absolute URLs inside captured scripts,
// stylesheets and route markup so the archive resolves against its own root.
//
// Only absolute http(s) URLs are ever matched and every replacement is
// root-relative, so running a rewrite over its own output changes nothing.
package rewrite

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/spa-archiver/internal/archive"
)

// ExternalPrefix is the archive namespace for cross-origin resources.
const ExternalPrefix = "/_external/"

// Kind selects the rewrite passes applied to a file.
type Kind string

// File kinds.
const (
	KindScript     Kind = "script"
	KindStylesheet Kind = "stylesheet"
	KindMarkup     Kind = "markup"
	KindBinary     Kind = "binary"
)

// Classify picks the rewrite kind from the browser resource type, the MIME
// type and the URL extension, in that order.
func Classify(res archive.CapturedResource) Kind {
	mediaType := strings.ToLower(strings.TrimSpace(res.MIMEType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	ext := ""
	if u, err := url.Parse(res.URL); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}

	switch {
	case res.Type == archive.ResourceScript,
		strings.Contains(mediaType, "javascript"), strings.Contains(mediaType, "ecmascript"),
		ext == ".js", ext == ".mjs", ext == ".cjs":
		return KindScript
	case res.Type == archive.ResourceStylesheet, mediaType == "text/css", ext == ".css":
		return KindStylesheet
	case res.Type == archive.ResourceDocument, mediaType == "text/html", mediaType == "application/xhtml+xml",
		ext == ".html", ext == ".htm":
		return KindMarkup
	default:
		return KindBinary
	}
}

const absURL = `https?://[^\s"'` + "`" + `<>\\]+`

var (
	importFromPattern    = regexp.MustCompile(`\b(?:from|import)\s*["'](https?://[^"'\s]+)["']`)
	dynamicImportPattern = regexp.MustCompile(`\bimport\s*\(\s*["'` + "`" + `](https?://[^"'` + "`" + `\s]+)["'` + "`" + `]`)
	templatePattern      = regexp.MustCompile("`(https?://[^`\\s$]+)")
	quotedPattern        = regexp.MustCompile(`["'](` + absURL + `)`)
	cssURLPattern        = regexp.MustCompile(`url\(\s*["']?(https?://[^"')\s]+)`)
	scriptTagPattern     = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	noscriptTagPattern   = regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript\s*>`)
	tagHostPattern       = regexp.MustCompile(`(?i)https?://([a-z0-9.\-]+)`)
	chartColorPattern    = regexp.MustCompile(`\b(rgba?)\(\s*var\(\s*--[A-Za-z0-9_-]+\s*\)`)
	srcsetPattern        = regexp.MustCompile(`(?i)\b(?:image)?srcset\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// Rewriter rewrites text for one archived origin.
type Rewriter struct {
	origin    *url.URL
	analytics *archive.HostBlocklist
	preserve  *archive.HostBlocklist
	bareHost  *regexp.Regexp
}

// New builds a Rewriter for origin. URLs on analytics or preserve hosts are
// left untouched; script and noscript tags referencing analytics hosts are
// removed from markup.
func New(origin *url.URL, analytics, preserve *archive.HostBlocklist) *Rewriter {
	host := regexp.QuoteMeta(strings.ToLower(origin.Hostname()))
	if port := origin.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + regexp.QuoteMeta(port)
	} else {
		host += `(?::(?:80|443))?`
	}
	return &Rewriter{
		origin:    origin,
		analytics: analytics,
		preserve:  preserve,
		bareHost:  regexp.MustCompile(`(?i)https?://` + host + `([/?#]|[^A-Za-z0-9.\-:@]|$)`),
	}
}

// Rewrite applies the passes for kind to body. Binary content is returned
// unchanged. Text that is not valid UTF-8 is rejected with archive.ErrRewrite
// so the caller can keep the original bytes.
func (r *Rewriter) Rewrite(kind Kind, body []byte) ([]byte, error) {
	if kind == KindBinary {
		return body, nil
	}
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", archive.ErrRewrite, kind)
	}
	text := string(body)
	switch kind {
	case KindScript:
		text = r.Script(text)
	case KindStylesheet:
		text = r.Stylesheet(text)
	case KindMarkup:
		text = r.Markup(text)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", archive.ErrRewrite, kind)
	}
	return []byte(text), nil
}

// Script rewrites a JavaScript bundle.
func (r *Rewriter) Script(text string) string {
	text = r.literalPasses(text)
	return r.stripOrigin(text)
}

// Stylesheet rewrites CSS.
func (r *Rewriter) Stylesheet(text string) string {
	text = r.replaceGroup(cssURLPattern, text)
	text = r.replaceGroup(quotedPattern, text)
	return r.stripOrigin(text)
}

// Markup rewrites captured route markup.
func (r *Rewriter) Markup(text string) string {
	text = r.removeBlockedTags(text, scriptTagPattern)
	text = r.removeBlockedTags(text, noscriptTagPattern)
	text = r.replaceGroup(cssURLPattern, text)
	text = r.rewriteSrcsets(text)
	text = r.literalPasses(text)
	text = r.stripOrigin(text)
	return RecolorChartVars(text)
}

// rewriteSrcsets localizes every candidate URL of srcset and imagesrcset
// attributes. Descriptors and separators are kept as written.
func (r *Rewriter) rewriteSrcsets(text string) string {
	matches := srcsetPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		if start < 0 {
			start, end = m[4], m[5]
		}
		b.WriteString(text[last:start])
		b.WriteString(r.srcsetValue(text[start:end]))
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func (r *Rewriter) srcsetValue(value string) string {
	candidates := strings.Split(value, ",")
	for i, candidate := range candidates {
		lead := len(candidate) - len(strings.TrimLeft(candidate, " \t\r\n"))
		rest := candidate[lead:]
		cut := strings.IndexAny(rest, " \t\r\n")
		if cut < 0 {
			cut = len(rest)
		}
		lower := strings.ToLower(rest[:cut])
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		if local, ok := r.LocalURL(rest[:cut]); ok {
			candidates[i] = candidate[:lead] + local + rest[cut:]
		}
	}
	return strings.Join(candidates, ",")
}

func (r *Rewriter) literalPasses(text string) string {
	text = r.replaceGroup(importFromPattern, text)
	text = r.replaceGroup(dynamicImportPattern, text)
	text = r.replaceGroup(templatePattern, text)
	return r.replaceGroup(quotedPattern, text)
}

// RecolorChartVars turns rgb(var(--x)) into hsl(var(--x)). Design tokens
// hold HSL triplets, which chart libraries wrap in rgb() when serializing.
func RecolorChartVars(text string) string {
	matches := chartColorPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[2]])
		if text[m[2]:m[3]] == "rgba" {
			b.WriteString("hsla")
		} else {
			b.WriteString("hsl")
		}
		last = m[3]
	}
	b.WriteString(text[last:])
	return b.String()
}

// replaceGroup rewrites capture group 1 of every match and leaves every other
// byte, quotes included, as it was.
func (r *Rewriter) replaceGroup(re *regexp.Regexp, text string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		if start < 0 {
			continue
		}
		local, ok := r.LocalURL(text[start:end])
		if !ok {
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(local)
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// LocalURL maps an absolute URL to its archive-relative form. It reports
// false when the URL must be left alone.
func (r *Rewriter) LocalURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || r.analytics.IsBlocked(host) || r.preserve.IsBlocked(host) {
		return "", false
	}
	tail := rawTail(raw)
	if archive.SameHost(r.origin, u) {
		return tail, true
	}
	return ExternalPrefix + host + tail, true
}

// rawTail returns the path, query and fragment of raw exactly as written,
// defaulting to "/".
func rawTail(raw string) string {
	idx := strings.Index(raw, "://")
	if idx < 0 {
		return "/"
	}
	rest := raw[idx+3:]
	cut := strings.IndexAny(rest, "/?#")
	if cut < 0 {
		return "/"
	}
	tail := rest[cut:]
	if tail[0] != '/' {
		tail = "/" + tail
	}
	// A doubled slash would read as a protocol-relative URL on another host.
	if strings.HasPrefix(tail, "//") {
		tail = "/" + strings.TrimLeft(tail, "/")
	}
	return tail
}

// stripOrigin removes any remaining absolute prefix of the archived origin,
// such as unquoted occurrences in comments or concatenated strings.
func (r *Rewriter) stripOrigin(text string) string {
	matches := r.bareHost.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		next := text[m[2]:m[3]]
		if next != "/" {
			b.WriteString("/")
		}
		b.WriteString(next)
		last = m[1]
		if next == "/" {
			for last < len(text) && text[last] == '/' {
				last++
			}
		}
	}
	b.WriteString(text[last:])
	return b.String()
}

// removeBlockedTags replaces tags that load from an analytics host with a
// comment naming the host.
func (r *Rewriter) removeBlockedTags(text string, tag *regexp.Regexp) string {
	return tag.ReplaceAllStringFunc(text, func(block string) string {
		for _, m := range tagHostPattern.FindAllStringSubmatch(block, -1) {
			host := strings.ToLower(m[1])
			if r.analytics.IsBlocked(host) {
				return fmt.Sprintf("<!-- archived: removed script from %s -->", host)
			}
		}
		return block
	})
}
