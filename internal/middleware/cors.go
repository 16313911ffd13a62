package middleware

import (
	"net/http"
	"strings"
)

// collectionMethods 是集合路由与实时通道会用到的全部方法。
var collectionMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}

// downloadHeaders 需要暴露给浏览器，前端据此取得文件名与校验值。
var downloadHeaders = []string{"Content-Disposition", "Content-Length", "ETag"}

type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
	methods  string
	headers  string
	expose   string
}

// CORS 生成跨域中间件。tokenHeader 为令牌镜像所用的名字，允许前端以同名请求头提交令牌。
func CORS(allowedOrigins []string, tokenHeader string) func(http.Handler) http.Handler {
	p := &corsPolicy{
		origins: map[string]struct{}{},
		methods: strings.Join(collectionMethods, ","),
		expose:  strings.Join(downloadHeaders, ", "),
	}
	for _, origin := range allowedOrigins {
		value := strings.TrimSpace(origin)
		if value == "" {
			continue
		}
		if value == "*" {
			p.allowAll = true
			break
		}
		p.origins[value] = struct{}{}
	}

	headers := []string{"Content-Type", "Authorization", "X-Requested-With"}
	if tokenHeader = strings.TrimSpace(tokenHeader); tokenHeader != "" {
		headers = append(headers, tokenHeader)
	}
	p.headers = strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := p.resolve(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			p.write(w.Header(), origin)

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			// 预检请求只放行集合支持的方法
			if requested := r.Header.Get("Access-Control-Request-Method"); requested != "" && !p.allows(requested) {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func (p *corsPolicy) resolve(origin string) string {
	if origin == "" {
		return ""
	}
	if p.allowAll {
		return "*"
	}
	if _, ok := p.origins[origin]; ok {
		return origin
	}
	return ""
}

func (p *corsPolicy) allows(method string) bool {
	for _, m := range collectionMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (p *corsPolicy) write(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", p.methods)
	h.Set("Access-Control-Allow-Headers", p.headers)
	h.Set("Access-Control-Expose-Headers", p.expose)
	h.Set("Access-Control-Max-Age", "600")

	// 携带 cookie 的请求不能使用通配来源
	if origin != "*" {
		h.Add("Vary", "Origin")
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}
