package o3d3xx

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// ToJSON renders the device configuration tree:
//
//	{"o3d3xx": {"Device": {...}, "Net": {...}, "Apps": [...]}}
//
// It opens a throwaway edit session to read the parameter maps and
// cancels it on every path, which is why callers must treat the frame
// stream as stale afterwards.
func (c *Camera) ToJSON(ctx context.Context) ([]byte, error) {
	var doc []byte
	err := c.WithEditSession(ctx, func() error {
		devParams, err := c.GetDeviceParameters()
		if err != nil {
			return err
		}
		netParams, err := c.GetNetParameters()
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		list, err := c.GetApplicationList()
		if err != nil {
			return err
		}
		apps := make([]map[string]interface{}, 0, len(list))
		for _, entry := range list {
			app, err := c.dumpApplication(entry.Index)
			if err != nil {
				return err
			}
			apps = append(apps, app)
		}
		doc, err = json.MarshalIndent(map[string]interface{}{
			"o3d3xx": map[string]interface{}{
				"Device": devParams,
				"Net":    netParams,
				"Apps":   apps,
			},
		}, "", "  ")
		return errors.Wrap(err, "render configuration tree")
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Camera) dumpApplication(index int) (map[string]interface{}, error) {
	if err := c.EditApplication(index); err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(c.StopEditingApplication)
	params, err := c.GetAppParameters()
	if err != nil {
		return nil, err
	}
	imager, err := c.GetImagerParameters()
	if err != nil {
		return nil, err
	}
	app := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		app[k] = v
	}
	app["Index"] = strconv.Itoa(index)
	app["Imager"] = imager
	return app, nil
}

// FromJSON applies the fields present in doc to the device, each
// addressed by its path from the root. Fields apply in the order they
// appear in the document; application stops at the first failure and
// fields already applied stay applied. Sections other than Device, Net
// and Apps are ignored.
func (c *Camera) FromJSON(ctx context.Context, doc []byte) error {
	return c.WithEditSession(ctx, func() error {
		dec := json.NewDecoder(bytes.NewReader(doc))
		dec.UseNumber()
		if err := expectDelim(dec, '{'); err != nil {
			return err
		}
		for dec.More() {
			key, err := tokenKey(dec)
			if err != nil {
				return err
			}
			if key != "o3d3xx" {
				if err := skipJSONValue(dec); err != nil {
					return err
				}
				continue
			}
			if err := c.applyRoot(ctx, dec); err != nil {
				return err
			}
		}
		return expectDelim(dec, '}')
	})
}

func (c *Camera) applyRoot(ctx context.Context, dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		section, err := tokenKey(dec)
		if err != nil {
			return err
		}
		switch section {
		case "Device":
			if err := c.applyParamObject(dec, c.SetDeviceParameter); err != nil {
				return err
			}
			if err := c.SaveDevice(); err != nil {
				return err
			}
		case "Net":
			if err := c.applyParamObject(dec, c.SetNetParameter); err != nil {
				return err
			}
			if err := c.SaveNet(); err != nil {
				return err
			}
		case "Apps":
			if err := c.applyApps(dec); err != nil {
				return err
			}
		default:
			c.logger.Debugw("skipping unknown configuration section", "section", section)
			if err := skipJSONValue(dec); err != nil {
				return err
			}
		}
	}
	return expectDelim(dec, '}')
}

// applyParamObject streams one flat object, applying each scalar member
// in document order. Nested members are skipped.
func (c *Camera) applyParamObject(dec *json.Decoder, apply func(name, value string) error) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		name, err := tokenKey(dec)
		if err != nil {
			return err
		}
		value, scalar, err := tokenScalar(dec)
		if err != nil {
			return err
		}
		if !scalar {
			c.logger.Debugw("skipping nested configuration value", "field", name)
			continue
		}
		if err := apply(name, value); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

// appDoc is one Apps[] element with its members in document order.
type appDoc struct {
	index  int
	fields []jsonField
	imager []jsonField
}

type jsonField struct {
	name  string
	value string
}

func (c *Camera) applyApps(dec *json.Decoder) error {
	if err := expectDelim(dec, '['); err != nil {
		return err
	}
	for dec.More() {
		app, err := parseAppDoc(dec)
		if err != nil {
			return err
		}
		if err := c.applyAppDoc(app); err != nil {
			return err
		}
	}
	return expectDelim(dec, ']')
}

func parseAppDoc(dec *json.Decoder) (*appDoc, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	app := &appDoc{index: -1}
	for dec.More() {
		name, err := tokenKey(dec)
		if err != nil {
			return nil, err
		}
		if name == "Imager" {
			imager, err := parseFlatObject(dec)
			if err != nil {
				return nil, err
			}
			app.imager = imager
			continue
		}
		value, scalar, err := tokenScalar(dec)
		if err != nil {
			return nil, err
		}
		if !scalar {
			continue
		}
		if name == "Index" {
			idx, err := strconv.Atoi(value)
			if err != nil {
				return nil, newError(CodeValueError, "application Index is not an integer")
			}
			app.index = idx
			continue
		}
		app.fields = append(app.fields, jsonField{name, value})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return app, nil
}

func parseFlatObject(dec *json.Decoder) ([]jsonField, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var fields []jsonField
	for dec.More() {
		name, err := tokenKey(dec)
		if err != nil {
			return nil, err
		}
		value, scalar, err := tokenScalar(dec)
		if err != nil {
			return nil, err
		}
		if !scalar {
			continue
		}
		fields = append(fields, jsonField{name, value})
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return fields, nil
}

func (c *Camera) applyAppDoc(app *appDoc) error {
	if app.index < 0 {
		return newError(CodeValueError, "application entry missing Index")
	}
	if err := c.EditApplication(app.index); err != nil {
		return err
	}
	if err := c.applyAppParams(app); err != nil {
		goutils.UncheckedError(c.StopEditingApplication())
		return err
	}
	return c.StopEditingApplication()
}

func (c *Camera) applyAppParams(app *appDoc) error {
	for _, f := range app.fields {
		if err := c.SetAppParameter(f.name, f.value); err != nil {
			return err
		}
	}
	for _, f := range app.imager {
		if err := c.SetImagerParameter(f.name, f.value); err != nil {
			return err
		}
	}
	return c.SaveApp()
}

func expectDelim(dec *json.Decoder, want rune) error {
	tok, err := dec.Token()
	if err != nil {
		return newError(CodeValueError, "malformed configuration document: "+err.Error())
	}
	if d, ok := tok.(json.Delim); !ok || rune(d) != want {
		return newError(CodeValueError, "malformed configuration document")
	}
	return nil
}

func tokenKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", newError(CodeValueError, "malformed configuration document: "+err.Error())
	}
	key, ok := tok.(string)
	if !ok {
		return "", newError(CodeValueError, "malformed configuration document")
	}
	return key, nil
}

// tokenScalar reads one value token and renders it as the device's
// string form. The second return is false when the value was a nested
// object or array, which tokenScalar consumes and discards.
func tokenScalar(dec *json.Decoder) (string, bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", false, newError(CodeValueError, "malformed configuration document: "+err.Error())
	}
	switch v := tok.(type) {
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case nil:
		return "", false, nil
	case json.Delim:
		if v == '{' || v == '[' {
			return "", false, skipToMatch(dec)
		}
		return "", false, newError(CodeValueError, "malformed configuration document")
	default:
		return "", false, newError(CodeValueError, "malformed configuration document")
	}
}

func skipJSONValue(dec *json.Decoder) error {
	_, _, err := tokenScalar(dec)
	return err
}

func skipToMatch(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return newError(CodeValueError, "malformed configuration document: "+err.Error())
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
