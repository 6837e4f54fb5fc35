package handlers

import (
	"html/template"
	"net/http"
)

type swaggerPage struct {
	Title   string
	SpecURL string
}

// swaggerTemplate renders Swagger UI. A ?token= on the page URL is sent as
// the bearer token of every "try it out" request.
var swaggerTemplate = template.Must(template.New("swagger").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui.css">
    <style>
        body { margin: 0; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.10.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            const token = new URLSearchParams(window.location.search).get("token");
            window.ui = SwaggerUIBundle({
                url: "{{.SpecURL}}",
                dom_id: "#swagger-ui",
                deepLinking: true,
                persistAuthorization: true,
                requestInterceptor: function(req) {
                    if (token && !req.headers.Authorization) {
                        req.headers.Authorization = "Bearer " + token;
                    }
                    return req;
                }
            });
        };
    </script>
</body>
</html>`))

// SwaggerUI serves the interactive API documentation
func SwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	swaggerTemplate.Execute(w, swaggerPage{
		Title:   "Campus Utilities API Documentation",
		SpecURL: "/api/docs/openapi.json",
	})
}
