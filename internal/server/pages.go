package server

import (
	"context"
	"encoding/json"
	"io"
	"net/url"

	"github.com/a-h/templ"
)

const pageStyle = `body{font-family:"Segoe UI",sans-serif;margin:2rem;color:#323130}` +
	`h1{font-weight:600;font-size:1.4rem}` +
	`ul{padding-left:1.2rem}` +
	`.pnp-preview-error{color:#a4262c;white-space:pre-wrap}`

// page wraps body in the preview shell. head is trusted markup placed
// after the built-in style.
func page(title, head string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+`</title><style>`+pageStyle+`</style>`+head+`</head><body>`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// indexPage lists the templates available for preview.
func indexPage(dir string, names []string) templ.Component {
	return page("Search result templates", "", templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h1>Templates in `+templ.EscapeString(dir)+`</h1>`); err != nil {
			return err
		}
		if len(names) == 0 {
			_, err := io.WriteString(w, `<p>No templates found.</p>`)
			return err
		}
		if _, err := io.WriteString(w, `<ul>`); err != nil {
			return err
		}
		for _, name := range names {
			href := templ.EscapeString("/preview/" + (&url.URL{Path: name}).EscapedPath())
			if _, err := io.WriteString(w, `<li><a href="`+href+`">`+templ.EscapeString(name)+`</a></li>`); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul>`)
		return err
	}))
}

// previewPage shows the rendered template and keeps it current through
// the live reload socket. head carries the companion dependency tags.
func previewPage(name, head, markup string) templ.Component {
	return page(name, head, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h1>`+templ.EscapeString(name)+`</h1><div id="pnp-preview">`); err != nil {
			return err
		}
		if err := templ.Raw(markup).Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `</div>`); err != nil {
			return err
		}
		return liveReloadScript(name).Render(ctx, w)
	}))
}

func liveReloadScript(name string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		// json.Marshal escapes <, > and & so the name is safe inside a script.
		target, err := json.Marshal(name)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, `<script>(function(){
var target=`+string(target)+`;
var root=document.getElementById("pnp-preview");
function connect(){
var ws=new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"/ws");
ws.onmessage=function(ev){
var msg=JSON.parse(ev.data);
if(msg.target!==target){return;}
if(msg.type==="reload"){ws.send(JSON.stringify({type:"render",target:target}));}
else if(msg.type==="render"){root.innerHTML=msg.content;}
else if(msg.type==="error"){var p=document.createElement("pre");p.className="pnp-preview-error";p.textContent=msg.content;root.replaceChildren(p);}
};
ws.onclose=function(){setTimeout(connect,1000);};
}
connect();
})();</script>`)
		return err
	})
}
