package htmlutil

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func TestNodeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain number", `<td class="data_0_0">1013.2</td>`, "1013.2"},
		{"entity and padding", `<td>&nbsp;12.5&nbsp;</td>`, "12.5"},
		{"nested markup", `<td><span>北<b>北東</b></span></td>`, "北北東"},
		{"empty", `<td></td>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := html.Parse(strings.NewReader("<table><tr>" + tt.in + "</tr></table>"))
			if err != nil {
				t.Fatal(err)
			}
			td := findTD(doc)
			if td == nil {
				t.Fatal("no td parsed")
			}
			if got := NodeText(td); got != tt.want {
				t.Errorf("NodeText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func findTD(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "td" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if td := findTD(c); td != nil {
			return td
		}
	}
	return nil
}
