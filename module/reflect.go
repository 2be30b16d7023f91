package module

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/rune-lang/rune/value"
)

// toReflect converts a script Value into the reflect.Value a native Go
// function parameter expects, mirroring the teacher's runtime use of
// reflect.Value as the universal argument-passing currency between
// interpreted and compiled code (interp.go's frame.data []reflect.Value).
func toReflect(v value.Value, want reflect.Type) (reflect.Value, error) {
	if want == reflect.TypeOf((*value.Value)(nil)).Elem() {
		return reflect.ValueOf(v), nil
	}
	switch want.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := v.AsInteger()
		if err != nil {
			return reflect.Value{}, err
		}
		rv := reflect.New(want).Elem()
		rv.SetInt(i)
		return rv, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := v.AsInteger()
		if err != nil {
			return reflect.Value{}, err
		}
		rv := reflect.New(want).Elem()
		rv.SetUint(uint64(i))
		return rv, nil
	case reflect.Float32, reflect.Float64:
		f, err := v.AsFloat()
		if err != nil {
			return reflect.Value{}, err
		}
		rv := reflect.New(want).Elem()
		rv.SetFloat(f)
		return rv, nil
	case reflect.Bool:
		b, err := v.AsBool()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(b), nil
	case reflect.String:
		s, err := v.AsString()
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(s), nil
	case reflect.Slice:
		if want.Elem().Kind() == reflect.Uint8 {
			b, err := v.AsBytes()
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b), nil
		}
		elems, err := v.AsVec()
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.MakeSlice(want, len(elems), len(elems))
		for i, e := range elems {
			rv, err := toReflect(e, want.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out.Index(i).Set(rv)
		}
		return out, nil
	case reflect.Interface:
		return reflect.ValueOf(v), nil
	default:
		return reflect.Value{}, fmt.Errorf("module: cannot convert script value to %s", want)
	}
}

// fromReflectResults interprets a native Go function's return values.
// Following the Go convention of "(T, error)" that the teacher's wrapper
// functions use throughout its standard library bindings, a trailing
// error result is treated as the call's fallibility rather than a value.
func fromReflectResults(out []reflect.Value) (value.Value, error) {
	if len(out) == 0 {
		return value.Unit(), nil
	}
	last := out[len(out)-1]
	if last.Type() == reflect.TypeOf((*error)(nil)).Elem() {
		if !last.IsNil() {
			return value.Unit(), last.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return value.Unit(), nil
	}
	if len(out) > 1 {
		return value.Unit(), errors.New("module: native functions may return at most one value plus an error")
	}
	return fromReflectValue(out[0])
}

func fromReflectValue(rv reflect.Value) (value.Value, error) {
	if !rv.IsValid() {
		return value.Unit(), nil
	}
	if rv.Type() == reflect.TypeOf(value.Value{}) {
		return rv.Interface().(value.Value), nil
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return value.Integer(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return value.Integer(int64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return value.Float(rv.Float()), nil
	case reflect.Bool:
		return value.Bool(rv.Bool()), nil
	case reflect.String:
		return value.String(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return value.Bytes(rv.Bytes()), nil
		}
		items := make([]value.Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			v, err := fromReflectValue(rv.Index(i))
			if err != nil {
				return value.Unit(), err
			}
			items[i] = v
		}
		return value.VecOf(items), nil
	default:
		return value.External(rv.Type().String(), value.HashString(rv.Type().String()), rv.Interface()), nil
	}
}
