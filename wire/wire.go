// Package wire implements marshaling and unmarshaling of protocol requests
// and responses, plus the length-prefixed framing that wraps them on the
// network. Values are encoded big-endian. Structs are walked with reflection:
// exported fields are encoded in declaration order, fields tagged
// `wire:"omit"` and unexported fields are skipped.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
	"strings"
)

var ord = binary.BigEndian

func Write(w io.Writer, val reflect.Value) error {
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface:
		return Write(w, val.Elem())
	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			name := val.Type().Field(i).Name
			if name[0:1] == strings.ToLower(name[0:1]) {
				continue
			}
			if val.Type().Field(i).Tag.Get("wire") == "omit" {
				continue
			}
			if err := Write(w, val.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if val.IsNil() {
			return binary.Write(w, ord, int32(-1))
		}
		l := int32(val.Len())
		if l == 0 {
			return binary.Write(w, ord, int32(0))
		}
		if err := binary.Write(w, ord, l); err != nil {
			return err
		}
		if val.Type().Elem().Kind() == reflect.Uint8 { // []byte
			_, err := w.Write(val.Bytes())
			return err
		}
		for i := 0; i < val.Len(); i++ {
			if err := Write(w, val.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.String:
		l := int16(val.Len())
		if err := binary.Write(w, ord, l); err != nil {
			return err
		}
		_, err := w.Write([]byte(val.String()))
		return err
	case reflect.Int8:
		return binary.Write(w, ord, int8(val.Int()))
	case reflect.Int16:
		return binary.Write(w, ord, int16(val.Int()))
	case reflect.Int32:
		return binary.Write(w, ord, int32(val.Int()))
	case reflect.Int64:
		return binary.Write(w, ord, val.Int())
	case reflect.Uint32:
		return binary.Write(w, ord, uint32(val.Uint()))
	case reflect.Bool:
		b := []byte{0}
		if val.Bool() {
			b[0] = 1
		}
		_, err := w.Write(b)
		return err
	}
	return fmt.Errorf("unsupported wire kind: %v", val.Kind())
}

func Read(r io.Reader, val reflect.Value) error {
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface:
		return Read(r, val.Elem())
	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			name := val.Type().Field(i).Name
			if name[0:1] == strings.ToLower(name[0:1]) {
				continue
			}
			if val.Type().Field(i).Tag.Get("wire") == "omit" {
				continue
			}
			if err := Read(r, val.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		var n int32
		if err := binary.Read(r, ord, &n); err != nil {
			return fmt.Errorf("error reading array length: %v", err)
		}
		typ := val.Type().Elem()
		if typ.Kind() == reflect.Uint8 { // []byte
			if n < 0 {
				return nil // null bytes
			}
			b := make([]byte, n)
			if _, err := io.ReadFull(r, b); err != nil {
				return fmt.Errorf("error reading []byte body: %v", err)
			}
			val.SetBytes(b)
			return nil
		}
		if n < 0 {
			return nil // null array
		}
		val.Set(reflect.MakeSlice(val.Type(), 0, int(n)))
		for i := 0; i < int(n); i++ {
			element := reflect.New(typ).Elem()
			if err := Read(r, element); err != nil {
				return fmt.Errorf("error parsing array element: %v", err)
			}
			val.Set(reflect.Append(val, element))
		}
		return nil
	case reflect.String:
		var n int16
		if err := binary.Read(r, ord, &n); err != nil {
			return fmt.Errorf("error reading string length: %v", err)
		}
		if n < 0 {
			return nil // null string
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("error reading string body: %v", err)
		}
		val.SetString(string(b))
		return nil
	case reflect.Int8:
		var i int8
		if err := binary.Read(r, ord, &i); err != nil {
			return fmt.Errorf("error reading int8: %v", err)
		}
		val.SetInt(int64(i))
		return nil
	case reflect.Int16:
		var i int16
		if err := binary.Read(r, ord, &i); err != nil {
			return fmt.Errorf("error reading int16: %v", err)
		}
		val.SetInt(int64(i))
		return nil
	case reflect.Int32:
		var i int32
		if err := binary.Read(r, ord, &i); err != nil {
			return fmt.Errorf("error reading int32: %v", err)
		}
		val.SetInt(int64(i))
		return nil
	case reflect.Int64:
		var i int64
		if err := binary.Read(r, ord, &i); err != nil {
			return fmt.Errorf("error reading int64: %v", err)
		}
		val.SetInt(i)
		return nil
	case reflect.Uint32:
		var i uint32
		if err := binary.Read(r, ord, &i); err != nil {
			return fmt.Errorf("error reading uint32: %v", err)
		}
		val.SetUint(uint64(i))
		return nil
	case reflect.Bool:
		b := []byte{0}
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("error reading bool: %v", err)
		}
		val.SetBool(b[0] != 0)
		return nil
	}
	return fmt.Errorf("unsupported wire kind: %v", val.Kind())
}
