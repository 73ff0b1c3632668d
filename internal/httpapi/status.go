package httpapi

// Responses are written as fixed status lines followed by an optional body.
// The 200 line carries the CORS grant and the JSON content type; every other
// status closes the header block immediately.
const (
	statusOK = "HTTP/1.1 200 OK\r\n" +
		"Access-Control-Allow-Origin: *\r\n" +
		"Access-Control-Allow-Methods: POST, GET, OPTIONS\r\n" +
		"Access-Control-Allow-Headers: Content-Type\r\n" +
		"Access-Control-Max-Age: 86400\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n"
	statusNoContent     = "HTTP/1.1 204 No Content\r\n\r\n"
	statusBadRequest    = "HTTP/1.1 400 Bad Request\r\n\r\n"
	statusUnauthorized  = "HTTP/1.1 401 Unauthorized\r\n\r\n"
	statusNotFound      = "HTTP/1.1 404 Not Found\r\n\r\n"
	statusInternalError = "HTTP/1.1 500 Internal Error\r\n\r\n"
)

// statusCode extracts the numeric code from a status constant for logs and
// metrics.
func statusCode(status string) int {
	// "HTTP/1.1 XXX ..."
	if len(status) < 12 {
		return 0
	}
	code := 0
	for _, c := range status[9:12] {
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	return code
}
