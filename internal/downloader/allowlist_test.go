package downloader

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "likegrab/pkg/errors"
)

func TestAllowlistCheck(t *testing.T) {
	allow := NewAllowlist([]string{"pbs.twimg.com", "ton.twimg.com", "video.twimg.com", "127.0.0.1:8080"})

	tests := []struct {
		url     string
		allowed bool
	}{
		{"https://pbs.twimg.com/media/a.jpg", true},
		{"http://pbs.twimg.com/media/a.jpg", true},
		{"https://PBS.TWIMG.COM/media/a.jpg", true},
		{"https://pbs.twimg.com./media/a.jpg", true},
		{"https://pbs.twimg.com:443/media/a.jpg", true},
		{"https://video.twimg.com/ext_tw_video/1.mp4", true},
		{"http://127.0.0.1:8080/media/a.jpg", true},

		{"https://pbs.twimg.com.evil.example/a.jpg", false},
		{"https://evil.example/pbs.twimg.com/a.jpg", false},
		{"https://xpbs.twimg.com/a.jpg", false},
		{"https://twimg.com/a.jpg", false},
		{"https://abs.twimg.com/a.jpg", false},
		{"https://pbs.twimg.com:8443/a.jpg", false},
		{"http://pbs.twimg.com:443/a.jpg", false},
		{"http://127.0.0.1/media/a.jpg", false},
		{"http://127.0.0.1:9090/media/a.jpg", false},
		{"ftp://pbs.twimg.com/a.jpg", false},
		{"javascript:alert(1)", false},
		{"//pbs.twimg.com/a.jpg", false},
		{"https://u:p@pbs.twimg.com/a.jpg", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			err = allow.Check(u)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errs.IsPolicy(err))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		url         string
		contentType string
		want        string
	}{
		{"https://pbs.twimg.com/media/a.jpg", "", "jpg"},
		{"https://pbs.twimg.com/media/a.JPEG", "", "jpg"},
		{"https://pbs.twimg.com/media/a.png:large", "", "png"},
		{"https://pbs.twimg.com/media/a?format=webp&name=small", "", "webp"},
		{"https://pbs.twimg.com/media/a?format=jpeg", "image/png", "jpg"},
		{"https://pbs.twimg.com/media/a", "image/gif", "gif"},
		{"https://pbs.twimg.com/media/a", "image/png; charset=binary", "png"},
		{"https://video.twimg.com/v/clip.mp4?tag=12", "", "mp4"},
		{"https://pbs.twimg.com/media/a.exe", "", "jpg"},
		{"https://pbs.twimg.com/media/a", "", "jpg"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtensionFor(tt.url, tt.contentType), tt.url)
	}
}
