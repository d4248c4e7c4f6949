// Package image serializes compiled programs and caches them on disk.
package image

import (
	"errors"
	"fmt"
	"slices"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/kestrel/vm"
)

// Magic identifies a program image.
const Magic = "KBC"

// Version is the image format version written by Encode.
const Version = 1

var (
	// ErrBadMagic is returned for data that is not a program image.
	ErrBadMagic = errors.New("image: not a program image")
	// ErrVersion is returned for images of an unsupported format version.
	ErrVersion = errors.New("image: unsupported version")
	// ErrInvalid is returned for images that decode but do not validate.
	ErrInvalid = errors.New("image: invalid program")
)

var log = commonlog.GetLogger("kestrel.image")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is the serialized form of a vm.Program.
type Image struct {
	Magic     string           `cbor:"1,keyasint"`
	Version   int              `cbor:"2,keyasint"`
	BuildID   uuid.UUID        `cbor:"3,keyasint"`
	Constants []string         `cbor:"4,keyasint"`
	Functions []FunctionRecord `cbor:"5,keyasint"`
	Natives   []NativeRecord   `cbor:"6,keyasint,omitempty"`
}

// FunctionRecord is one serialized function. Its id is its index.
type FunctionRecord struct {
	Name      string    `cbor:"1,keyasint"`
	Params    []vm.Type `cbor:"2,keyasint,omitempty"`
	Return    vm.Type   `cbor:"3,keyasint"`
	NumLocals int       `cbor:"4,keyasint"`
	Owner     int       `cbor:"5,keyasint"`
	Code      []byte    `cbor:"6,keyasint"`
	Locals    []vm.Type `cbor:"7,keyasint,omitempty"`
}

// NativeRecord is a native declaration. Natives are resolved again when an
// image is loaded; host functions are never serialized.
type NativeRecord struct {
	Name   string    `cbor:"1,keyasint"`
	Params []vm.Type `cbor:"2,keyasint,omitempty"`
	Return vm.Type   `cbor:"3,keyasint"`
}

// FromProgram captures prog as an image with a fresh build id.
func FromProgram(prog *vm.Program) *Image {
	img := &Image{
		Magic:     Magic,
		Version:   Version,
		BuildID:   uuid.New(),
		Constants: prog.Constants.Entries(),
	}
	for _, f := range prog.Functions.All() {
		img.Functions = append(img.Functions, FunctionRecord{
			Name:      f.Name,
			Params:    f.Params,
			Return:    f.ReturnType,
			NumLocals: f.NumLocals,
			Owner:     f.Owner,
			Code:      f.Code,
			Locals:    f.Locals,
		})
	}
	for _, n := range prog.Natives.All() {
		img.Natives = append(img.Natives, NativeRecord{Name: n.Name, Params: n.Sig.Params, Return: n.Sig.Return})
	}
	return img
}

// Encode serializes prog to canonical CBOR.
func Encode(prog *vm.Program) ([]byte, error) {
	return Marshal(FromProgram(prog))
}

// Marshal serializes an image to canonical CBOR.
func Marshal(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// Unmarshal deserializes an image without validating it.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if img.Magic != Magic {
		return nil, ErrBadMagic
	}
	if img.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, img.Version)
	}
	return &img, nil
}

// Decode deserializes and validates an image and rebuilds the program,
// resolving its natives through natives.
func Decode(data []byte, natives vm.NativeResolver) (*vm.Program, error) {
	img, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return img.Program(natives)
}

// Program rebuilds a validated vm.Program from the image.
func (img *Image) Program(natives vm.NativeResolver) (*vm.Program, error) {
	prog := vm.NewProgram()
	for i, s := range img.Constants {
		id, err := prog.Constants.Intern(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if int(id) != i {
			return nil, fmt.Errorf("%w: duplicate constant %q", ErrInvalid, s)
		}
	}
	for i, r := range img.Functions {
		if !validSignature(r.Params, r.Return) {
			return nil, fmt.Errorf("%w: function %d has an invalid signature", ErrInvalid, i)
		}
		if r.Owner < vm.NoOwner || r.Owner >= len(img.Functions) || r.Owner == i {
			return nil, fmt.Errorf("%w: function %d has invalid owner %d", ErrInvalid, i, r.Owner)
		}
		if r.NumLocals != len(r.Params)+len(r.Locals) {
			return nil, fmt.Errorf("%w: function %d has %d slots for %d params and %d locals", ErrInvalid, i, r.NumLocals, len(r.Params), len(r.Locals))
		}
		if !validSignature(r.Locals, vm.TypeVoid) {
			return nil, fmt.Errorf("%w: function %d has a void local", ErrInvalid, i)
		}
		f, err := prog.Functions.Register(r.Name, r.Params, r.Return, r.Owner)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		f.NumLocals = r.NumLocals
		f.Locals = r.Locals
		f.Code = r.Code
	}
	for _, r := range img.Natives {
		if !validSignature(r.Params, r.Return) {
			return nil, fmt.Errorf("%w: native %s has an invalid signature", ErrInvalid, r.Name)
		}
		if _, err := prog.Natives.Register(r.Name, vm.Signature{Params: r.Params, Return: r.Return}, natives); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if err := Validate(prog); err != nil {
		return nil, err
	}
	log.Debugf("loaded image %s: %d functions, %d constants", img.BuildID, len(img.Functions), len(img.Constants))
	return prog, nil
}

// validSignature reports whether every parameter has a value type and the
// return type is known.
func validSignature(params []vm.Type, ret vm.Type) bool {
	for _, t := range params {
		if _, ok := t.Kind(); !ok {
			return false
		}
	}
	return ret <= vm.TypeString
}

// Validate checks that every instruction of prog decodes and that every
// operand refers to something that exists. It does not check stack effects;
// the interpreter faults on those.
func Validate(prog *vm.Program) error {
	if prog.Functions.Len() == 0 {
		return fmt.Errorf("%w: no top-level function", ErrInvalid)
	}
	funcs := prog.Functions.All()
	_, hasEmpty := prog.Constants.Find("")
	for _, f := range funcs {
		if !hasEmpty && slices.Contains(f.Locals, vm.TypeString) {
			return fmt.Errorf("%w: %s has string locals but no empty string constant", ErrInvalid, f)
		}
		err := vm.Walk(f.Code, func(in vm.Instruction) error {
			switch in.Op {
			case vm.OpPushString:
				if int(in.A) >= prog.Constants.Len() {
					return fmt.Errorf("constant %d out of range", in.A)
				}
			case vm.OpLoadLocal, vm.OpStoreLocal:
				if int(in.A) >= f.NumLocals {
					return fmt.Errorf("slot %d out of range", in.A)
				}
			case vm.OpLoadContext, vm.OpStoreContext:
				if int(in.A) >= len(funcs) {
					return fmt.Errorf("context function %d out of range", in.A)
				}
				if int(in.B) >= funcs[in.A].NumLocals {
					return fmt.Errorf("context slot %d of %s out of range", in.B, funcs[in.A])
				}
			case vm.OpCall:
				if int(in.A) >= len(funcs) {
					return fmt.Errorf("function %d out of range", in.A)
				}
			case vm.OpCallNative:
				if int(in.A) >= len(prog.Natives.All()) {
					return fmt.Errorf("native %d out of range", in.A)
				}
			}
			if in.Op.Layout() == vm.LayoutI16 {
				if t := in.Target(); t < 0 || t > len(f.Code) {
					return fmt.Errorf("jump target %04d out of range", t)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, f, err)
		}
	}
	return nil
}
