package version

import "testing"

func TestString(t *testing.T) {
	cases := []struct {
		info Info
		want string
	}{
		{Info{}, "dev"},
		{Info{Version: "v1.2.3"}, "v1.2.3"},
		{Info{Version: "v1.2.3", GitCommit: "abc1234"}, "v1.2.3 (abc1234)"},
		{Info{GitCommit: "abc1234"}, "dev (abc1234)"},
	}
	for _, tc := range cases {
		if got := tc.info.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
