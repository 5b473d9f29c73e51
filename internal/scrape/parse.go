package scrape

import (
	"bytes"
	nurl "net/url"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/chain"
	"github.com/dost0092/web-scraper-atomic/internal/model"
)

// minReadableChars is the shortest readability text accepted as a
// description fallback.
const minReadableChars = 80

// maxDescriptionChars bounds the fallback description.
const maxDescriptionChars = 4000

var spaceRe = regexp.MustCompile(`\s+`)

var markdown = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// Parse extracts a hotel's fields from a rendered property page using the
// selectors registered for the page's chain, or the generic selectors when
// the chain is unknown. When no description selector matches, the main
// article text found by readability is used instead.
func Parse(html []byte, pageURL string, cat *chain.Catalogue) (*model.RawExtraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse html")
	}

	key, sel := cat.SelectorsFor(pageURL)
	raw := &model.RawExtraction{
		URL:         pageURL,
		Chain:       key,
		Name:        firstText(doc, sel.Name),
		Description: firstText(doc, sel.Description),
		Address:     firstText(doc, sel.Address),
		Phone:       phone(doc, sel.Phone),
		Amenities:   allText(doc, sel.Amenities),
		Rating:      firstText(doc, sel.Rating),
		Policies: model.Policies{
			Parking: table(doc, sel.Parking),
			Pets:    table(doc, sel.Pets),
			Smoking: firstText(doc, sel.Smoking),
			WiFi:    firstText(doc, sel.WiFi),
		},
	}

	if raw.Chain == "" && raw.Name != "" {
		if ch := cat.DetectByName(raw.Name); ch != nil {
			raw.Chain = ch.Key
		}
	}
	if raw.Description == "" {
		raw.Description = readableDescription(html, pageURL)
	}
	return raw, nil
}

// text returns a node's collapsed text. Meta tags contribute their content
// attribute.
func text(s *goquery.Selection) string {
	if goquery.NodeName(s) == "meta" {
		v, _ := s.Attr("content")
		return clean(v)
	}
	return clean(s.Text())
}

func clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// firstText returns the text of the first selector with a non-empty match.
func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = text(s)
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// allText returns the de-duplicated texts of the first selector that
// matches anything.
func allText(doc *goquery.Document, selectors []string) []string {
	for _, sel := range selectors {
		var out []string
		seen := make(map[string]bool)
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if t := text(s); t != "" && !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// table reads label/value rows: each matched element holds a label <p>
// followed by a value <p>. Rows with a single paragraph are kept with an
// empty label.
func table(doc *goquery.Document, selectors []string) map[string]string {
	for _, sel := range selectors {
		out := make(map[string]string)
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			ps := s.Find("p")
			switch {
			case ps.Length() >= 2:
				if label := text(ps.Eq(0)); label != "" {
					out[label] = text(ps.Eq(1))
				}
			case ps.Length() == 1:
				if v := text(ps); v != "" {
					out[v] = ""
				}
			default:
				if v := text(s); v != "" {
					out[v] = ""
				}
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// phone prefers the number in a tel: link over the link text.
func phone(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if href, ok := s.Attr("href"); ok && strings.HasPrefix(href, "tel:") {
			if v := clean(strings.TrimPrefix(href, "tel:")); v != "" {
				return v
			}
		}
		if v := text(s); v != "" {
			return v
		}
	}
	return ""
}

// readableDescription runs readability over the page and renders the
// article as markdown text.
func readableDescription(html []byte, pageURL string) string {
	u, err := nurl.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(html), u)
	if err != nil {
		zap.L().Debug("scrape: readability failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	if len(strings.TrimSpace(article.TextContent)) < minReadableChars {
		return ""
	}

	md, err := markdown.ConvertString(article.Content, converter.WithDomain(u.Scheme+"://"+u.Host))
	if err != nil {
		md = article.TextContent
	}
	md = strings.TrimSpace(md)
	if r := []rune(md); len(r) > maxDescriptionChars {
		md = string(r[:maxDescriptionChars])
	}
	return md
}
