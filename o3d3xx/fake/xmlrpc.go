package fake

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/shaun-edwards/o3d3xx-ros/o3d3xx"
)

// Fault codes the fake raises, in the device's own numeric style. The
// driver passes these through verbatim, so tests assert against them.
const (
	ErrCodeUnknownObject   = 100002
	ErrCodeUnknownMethod   = 100003
	ErrCodeInvalidPassword = 101001
	ErrCodeInvalidSession  = 101002
	ErrCodeNotInEditMode   = 101003
	ErrCodeInvalidParam    = 101010
	ErrCodeUnknownApp      = 101013
	ErrCodeNotEditingApp   = 101014
)

// methodCall is the wire shape of one XML-RPC request; only the scalar
// parameter kinds the driver sends are modeled.
type methodCall struct {
	XMLName xml.Name   `xml:"methodCall"`
	Name    string     `xml:"methodName"`
	Params  []xmlValue `xml:"params>param>value"`
}

type xmlValue struct {
	Str    *string `xml:"string"`
	I4     *string `xml:"i4"`
	Int    *string `xml:"int"`
	Bool   *string `xml:"boolean"`
	Double *string `xml:"double"`
	Char   string  `xml:",chardata"`
}

func (v xmlValue) str() string {
	switch {
	case v.Str != nil:
		return *v.Str
	case v.I4 != nil:
		return *v.I4
	case v.Int != nil:
		return *v.Int
	case v.Bool != nil:
		return *v.Bool
	case v.Double != nil:
		return *v.Double
	default:
		return strings.TrimSpace(v.Char)
	}
}

func (v xmlValue) asInt() int {
	n, _ := strconv.Atoi(v.str())
	return n
}

func param(params []xmlValue, i int) xmlValue {
	if i < len(params) {
		return params[i]
	}
	return xmlValue{}
}

// structMember keeps response struct members ordered.
type structMember struct {
	name  string
	value interface{}
}

type rpcStruct []structMember

func (d *Device) handleXMLRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var call methodCall
	if err := xml.Unmarshal(body, &call); err != nil {
		http.Error(w, "malformed method call", http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	result, fault := d.dispatch(r.URL.Path, call)
	d.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml")
	if fault != nil {
		fmt.Fprint(w, marshalFault(*fault))
		return
	}
	fmt.Fprint(w, marshalResponse(result))
}

// dispatch runs one method against the object named by path. Callers
// hold d.mu.
func (d *Device) dispatch(path string, call methodCall) (interface{}, *rpcFault) {
	d.calls = append(d.calls, call.Name)
	if f, ok := d.failMethods[call.Name]; ok {
		return nil, &f
	}

	rel, ok := strings.CutPrefix(path, o3d3xx.RPCRoot)
	if !ok {
		return nil, &rpcFault{ErrCodeUnknownObject, "unknown object"}
	}
	if rel == "" {
		return d.dispatchRoot(call)
	}

	id, rest, found := strings.Cut(rel, "/")
	if !found || !strings.HasPrefix(id, "session_") {
		return nil, &rpcFault{ErrCodeUnknownObject, "unknown object"}
	}
	if strings.TrimPrefix(id, "session_") != d.sessionID || d.sessionID == "" {
		return nil, &rpcFault{ErrCodeInvalidSession, "invalid session"}
	}
	if rest == "" {
		return d.dispatchSession(call)
	}
	if !d.editMode {
		return nil, &rpcFault{ErrCodeNotInEditMode, "not in edit mode"}
	}
	switch rest {
	case "edit/":
		return d.dispatchEdit(call)
	case "edit/device/":
		return d.dispatchParams(call, d.deviceParams, "save")
	case "edit/device/network/":
		return d.dispatchParams(call, d.netParams, "saveAndActivateConfig")
	case "edit/application/":
		app, fault := d.editedApp()
		if fault != nil {
			return nil, fault
		}
		return d.dispatchParams(call, app.params, "save")
	case "edit/application/imager_001/":
		app, fault := d.editedApp()
		if fault != nil {
			return nil, fault
		}
		return d.dispatchParams(call, app.imager, "save")
	default:
		return nil, &rpcFault{ErrCodeUnknownObject, "unknown object"}
	}
}

func (d *Device) editedApp() (*application, *rpcFault) {
	app, ok := d.apps[d.editingApp]
	if d.editingApp == 0 || !ok {
		return nil, &rpcFault{ErrCodeNotEditingApp, "no application being edited"}
	}
	return app, nil
}

func (d *Device) dispatchRoot(call methodCall) (interface{}, *rpcFault) {
	switch call.Name {
	case "requestSession":
		if param(call.Params, 0).str() != d.cfg.Password {
			return nil, &rpcFault{ErrCodeInvalidPassword, "invalid password"}
		}
		d.sessionCounter++
		d.sessionID = fmt.Sprintf("%016x", d.sessionCounter)
		d.editMode = false
		d.editingApp = 0
		return d.sessionID, nil
	case "getSWVersion":
		return map[string]string{
			"IFM_Software":     "1.6.2114",
			"Main_Application": "1.6.14",
		}, nil
	case "getApplicationList":
		indexes := make([]int, 0, len(d.apps))
		for idx := range d.apps {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		active, _ := strconv.Atoi(d.deviceParams["ActiveApplication"])
		list := make([]interface{}, 0, len(indexes))
		for _, idx := range indexes {
			app := d.apps[idx]
			list = append(list, rpcStruct{
				{"Index", idx},
				{"Id", idx},
				{"Name", app.name},
				{"Description", app.description},
				{"Active", idx == active},
			})
		}
		return list, nil
	default:
		return nil, &rpcFault{ErrCodeUnknownMethod, "unknown method " + call.Name}
	}
}

func (d *Device) dispatchSession(call methodCall) (interface{}, *rpcFault) {
	switch call.Name {
	case "cancelSession":
		d.sessionID = ""
		d.editMode = false
		d.editingApp = 0
		return true, nil
	case "heartbeat":
		return param(call.Params, 0).asInt(), nil
	case "setOperatingMode":
		mode := param(call.Params, 0).asInt()
		d.editMode = mode == int(o3d3xx.ModeEdit)
		if !d.editMode {
			d.editingApp = 0
		}
		return true, nil
	default:
		return nil, &rpcFault{ErrCodeUnknownMethod, "unknown method " + call.Name}
	}
}

func (d *Device) dispatchEdit(call methodCall) (interface{}, *rpcFault) {
	switch call.Name {
	case "editApplication":
		idx := param(call.Params, 0).asInt()
		if _, ok := d.apps[idx]; !ok {
			return nil, &rpcFault{ErrCodeUnknownApp, "unknown application"}
		}
		d.editingApp = idx
		return true, nil
	case "stopEditingApplication":
		d.editingApp = 0
		return true, nil
	case "deleteApplication":
		idx := param(call.Params, 0).asInt()
		if _, ok := d.apps[idx]; !ok {
			return nil, &rpcFault{ErrCodeUnknownApp, "unknown application"}
		}
		delete(d.apps, idx)
		return true, nil
	default:
		return nil, &rpcFault{ErrCodeUnknownMethod, "unknown method " + call.Name}
	}
}

func (d *Device) dispatchParams(call methodCall, params map[string]string, saveMethod string) (interface{}, *rpcFault) {
	switch call.Name {
	case "getAllParameters":
		out := make(map[string]string, len(params))
		for k, v := range params {
			out[k] = v
		}
		return out, nil
	case "getParameter":
		name := param(call.Params, 0).str()
		v, ok := params[name]
		if !ok {
			return nil, &rpcFault{ErrCodeInvalidParam, "invalid parameter " + name}
		}
		return v, nil
	case "setParameter":
		name := param(call.Params, 0).str()
		if f, ok := d.failParams[name]; ok {
			return nil, &f
		}
		if _, ok := params[name]; !ok {
			return nil, &rpcFault{ErrCodeInvalidParam, "invalid parameter " + name}
		}
		params[name] = param(call.Params, 1).str()
		return true, nil
	case saveMethod:
		return true, nil
	default:
		return nil, &rpcFault{ErrCodeUnknownMethod, "unknown method " + call.Name}
	}
}

func marshalResponse(v interface{}) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><methodResponse><params><param>")
	writeValue(&b, v)
	b.WriteString("</param></params></methodResponse>")
	return b.String()
}

func marshalFault(f rpcFault) string {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><methodResponse><fault><value><struct>")
	fmt.Fprintf(&b, "<member><name>faultCode</name><value><int>%d</int></value></member>", f.code)
	b.WriteString("<member><name>faultString</name><value><string>")
	writeEscaped(&b, f.msg)
	b.WriteString("</string></value></member>")
	b.WriteString("</struct></value></fault></methodResponse>")
	return b.String()
}

func writeValue(b *strings.Builder, v interface{}) {
	b.WriteString("<value>")
	switch t := v.(type) {
	case nil:
		b.WriteString("<boolean>1</boolean>")
	case string:
		b.WriteString("<string>")
		writeEscaped(b, t)
		b.WriteString("</string>")
	case int:
		fmt.Fprintf(b, "<int>%d</int>", t)
	case bool:
		if t {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case map[string]string:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("<struct>")
		for _, k := range keys {
			b.WriteString("<member><name>")
			writeEscaped(b, k)
			b.WriteString("</name>")
			writeValue(b, t[k])
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	case rpcStruct:
		b.WriteString("<struct>")
		for _, m := range t {
			b.WriteString("<member><name>")
			writeEscaped(b, m.name)
			b.WriteString("</name>")
			writeValue(b, m.value)
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	case []interface{}:
		b.WriteString("<array><data>")
		for _, e := range t {
			writeValue(b, e)
		}
		b.WriteString("</data></array>")
	default:
		b.WriteString("<string>")
		writeEscaped(b, fmt.Sprint(t))
		b.WriteString("</string>")
	}
	b.WriteString("</value>")
}

func writeEscaped(b *strings.Builder, s string) {
	// strings.Builder writes cannot fail
	_ = xml.EscapeText(b, []byte(s))
}
