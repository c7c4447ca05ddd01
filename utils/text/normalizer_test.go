package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeForSpeech(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Tariffs are a tax.", want: "Tariffs are a tax."},
		{name: "markdown", in: "**Tariffs** are *bad* and `wrong`", want: "Tariffs are bad and wrong"},
		{name: "heading", in: "# Hot take", want: "Hot take"},
		{name: "link", in: "see [my post](https://example.com) now", want: "see my post now"},
		{name: "stage direction", in: "(rolls eyes) Sure, whatever.", want: "Sure, whatever."},
		{name: "full width stage direction", in: "好吧（叹气）随便", want: "好吧 随便"},
		{name: "emoji", in: "Wow 🔥🔥 amazing 😂", want: "Wow amazing"},
		{name: "whitespace", in: "  too \n\n many\tspaces  ", want: "too many spaces"},
		{name: "only emoji", in: "😂🤖", want: ""},
		{name: "only direction", in: "(sighs)", want: ""},
	}
	for _, tc := range cases {
		assert.EqualValues(t, tc.want, NormalizeForSpeech(tc.in), tc.name)
	}
}
