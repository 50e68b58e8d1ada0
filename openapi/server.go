package openapi

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/jsonrpc"
)

// Server serves a pre-encoded Document and an HTML index of its methods.
type Server struct {
	json []byte
	yaml []byte
	page docsPage
}

type docsPage struct {
	Title       string
	Description string
	Version     string
	SpecPath    string
	Entrypoint  string
	Methods     []docsMethod
}

type docsMethod struct {
	Name        string
	Path        string
	Summary     string
	Description string
	Errors      []string
}

// NewServer encodes doc once. set supplies the method list of the index
// page; specPath is where the JSON document will be mounted.
func NewServer(doc *Document, set *jsonrpc.SchemaSet, specPath string) (*Server, error) {
	j, err := doc.JSON()
	if err != nil {
		return nil, err
	}
	y, err := doc.YAML()
	if err != nil {
		return nil, err
	}

	s := &Server{json: j, yaml: y}
	s.page = docsPage{
		Title:       doc.Info.Title,
		Description: doc.Info.Description,
		Version:     doc.Info.Version,
		SpecPath:    specPath,
	}
	if p := doc.Paths.Oldest(); p != nil {
		s.page.Entrypoint = p.Key
	}
	for _, m := range set.Methods {
		dm := docsMethod{
			Name:        m.Method,
			Path:        strings.TrimSuffix(s.page.Entrypoint, "/") + "/" + m.Method,
			Summary:     m.Summary,
			Description: m.Description,
		}
		for _, k := range m.Errors {
			dm.Errors = append(dm.Errors, k.String())
		}
		s.page.Methods = append(s.page.Methods, dm)
	}
	return s, nil
}

// JSONEndpoint serves the document as JSON.
func (s *Server) JSONEndpoint(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.BytesRenderer{ContentType: "application/json", Body: s.json}, nil
}

// YAMLEndpoint serves the document as YAML.
func (s *Server) YAMLEndpoint(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.BytesRenderer{ContentType: "application/yaml", Body: s.yaml}, nil
}

// DocsEndpoint serves the HTML method index.
func (s *Server) DocsEndpoint(_ http.ResponseWriter, _ *http.Request, _ struct{}) (endpoint.Renderer, error) {
	return &endpoint.HTMLTemplateRenderer{Template: docsTmpl, Values: s.page}, nil
}

// Mount registers "GET <base>" (index page), "GET <base>/openapi.json" and
// "GET <base>/openapi.yaml" on mux.
func (s *Server) Mount(mux *http.ServeMux, base string, processors ...endpoint.Processor) {
	base = strings.TrimSuffix(base, "/")
	mux.Handle("GET "+base+"/openapi.json", endpoint.Handler(s.JSONEndpoint, processors...))
	mux.Handle("GET "+base+"/openapi.yaml", endpoint.Handler(s.YAMLEndpoint, processors...))
	index := base
	if index == "" {
		index = "/{$}"
	}
	mux.Handle("GET "+index, endpoint.Handler(s.DocsEndpoint, processors...))
}

var docsTmpl = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
</head>
<body>
	<h1>{{.Title}} <small>{{.Version}}</small></h1>
	{{with .Description}}<p>{{.}}</p>{{end}}
	<p>Entrypoint: <code>POST {{.Entrypoint}}</code>. Document: <a href="{{.SpecPath}}">{{.SpecPath}}</a></p>
	{{range .Methods}}
	<section id="{{.Name}}">
		<h2><code>{{.Name}}</code></h2>
		{{with .Summary}}<p>{{.}}</p>{{end}}
		{{with .Description}}<p>{{.}}</p>{{end}}
		<p><code>POST {{.Path}}</code></p>
		<ul>
		{{range .Errors}}<li>{{.}}</li>
		{{end}}</ul>
	</section>
	{{else}}
	<p>No methods.</p>
	{{end}}
</body>
</html>
`))
