// Package sample builds a small simulated game process on a memhost heap.
// The demo command and the session and extension tests run against it.
package sample

import (
	"github.com/daimatz/goprobe/pkg/host"
	"github.com/daimatz/goprobe/pkg/host/memhost"
)

// Assembly is the assembly the sample classes are defined in.
const Assembly = "Assembly-CSharp"

// World is a populated heap with handles to its classes.
type World struct {
	*memhost.Heap

	Mode    *host.ClassDescriptor
	Player  *host.ClassDescriptor
	Request *host.ClassDescriptor
	Timer   *host.ClassDescriptor

	List       *host.ClassDescriptor
	Dictionary *host.ClassDescriptor
}

// NewWorld creates the sample world.
func NewWorld() *World {
	w := &World{Heap: memhost.NewHeap(4 << 20)}
	w.List = w.ListClass()
	w.Dictionary = w.DictionaryClass()

	w.Mode = w.Define(Assembly, &host.ClassDescriptor{
		Namespace: "Game", Name: "Mode", IsEnum: true, IsValueType: true,
		Fields: []host.FieldDescriptor{
			{Name: "value__", TypeName: "System.Int32", Offset: 0x10},
			{Name: "Easy", IsStatic: true, IsLiteral: true, Literal: 0},
			{Name: "Normal", IsStatic: true, IsLiteral: true, Literal: 1},
			{Name: "Hard", IsStatic: true, IsLiteral: true, Literal: 2},
		},
	})

	w.Player = w.Define(Assembly, &host.ClassDescriptor{
		Namespace: "Game",
		Name:      "Player",
		Fields: []host.FieldDescriptor{
			{Name: "<Name>k__BackingField", TypeName: "System.String", Offset: 0x10},
			{Name: "hp", TypeName: "System.Int32", Offset: 0x18},
			{Name: "mode", TypeName: "Game.Mode", Offset: 0x1C},
			{Name: "gold", TypeName: "System.Int64", Offset: 0x20},
			{Name: "inventory", TypeName: "System.Collections.Generic.Dictionary<System.String, System.Int32>", Offset: 0x28},
			{Name: "friends", TypeName: "System.Collections.Generic.List<Game.Player>", Offset: 0x30},
			{Name: "avatar", TypeName: "System.Byte[]", Offset: 0x38},
		},
		Methods: []host.MethodDescriptor{
			{Name: ".ctor", Entry: 0x70001000},
			{Name: "get_Name", Entry: 0x70001100, ReturnTypeName: "System.String"},
			{Name: "Damage", Entry: 0x70001200, ReturnTypeName: "System.Boolean", Parameters: []host.Parameter{
				{Name: "amount", TypeName: "System.Int32"},
				{Name: "source", TypeName: "System.String"},
			}},
			{Name: "Update", Entry: 0x70001300, ReturnTypeName: "System.Void", Parameters: []host.Parameter{
				{Name: "dt", TypeName: "System.Single"},
			}},
			{Name: "SetMode", Entry: 0x70001400, ReturnTypeName: "System.Void", Parameters: []host.Parameter{
				{Name: "mode", TypeName: "Game.Mode"},
			}},
			{Name: "Spawn", Entry: 0x70001500, IsStatic: true, ReturnTypeName: "Game.Player", Parameters: []host.Parameter{
				{Name: "name", TypeName: "System.String"},
			}},
			{Name: "OnSerialize", ReturnTypeName: "System.Void"},
		},
	})

	w.Request = w.Define(Assembly, &host.ClassDescriptor{
		Namespace: "Game.Net",
		Name:      "WebRequest",
		Fields: []host.FieldDescriptor{
			{Name: "url", TypeName: "System.String", Offset: 0x10},
			{Name: "method", TypeName: "System.String", Offset: 0x18},
			{Name: "responseCode", TypeName: "System.Int64", Offset: 0x20},
			{Name: "uploadData", TypeName: "System.Byte[]", Offset: 0x28},
		},
		Methods: []host.MethodDescriptor{
			{Name: "SendWebRequest", Entry: 0x70002000, ReturnTypeName: "System.Object"},
			{Name: "SendWebRequestAsync", Entry: 0x70002100, ReturnTypeName: "System.Object"},
			{Name: "Dispose", Entry: 0x70002200, ReturnTypeName: "System.Void"},
		},
	})

	w.Timer = w.Define(Assembly, &host.ClassDescriptor{
		Namespace: "Game",
		Name:      "StepTimer",
		Fields: []host.FieldDescriptor{
			{Name: "remaining", TypeName: "System.Single", Offset: 0x10},
		},
		Methods: []host.MethodDescriptor{
			{Name: "ShouldWait", Entry: 0x70003000, ReturnTypeName: "System.Boolean"},
			{Name: "ShouldWaitForServer", Entry: 0x70003100, ReturnTypeName: "System.Boolean"},
			{Name: "Tick", Entry: 0x70003200, ReturnTypeName: "System.Void"},
		},
	})
	return w
}

// Method returns the method of cls with the given name.
func (w *World) Method(cls *host.ClassDescriptor, name string) *host.MethodDescriptor {
	m := cls.FindMethod(name)
	if m == nil {
		panic("sample: no method " + name + " on " + cls.FullName())
	}
	return m
}

// NewPlayer allocates a player with a small inventory and no friends.
func (w *World) NewPlayer(name string, hp int32, gold int64) host.Pointer {
	p := w.New(w.Player)
	w.WritePointer(p.Add(0x10), w.NewString(name))
	w.WriteI32(p.Add(0x18), hp)
	w.WriteI32(p.Add(0x1C), 1)
	w.WriteI64(p.Add(0x20), gold)

	inv := memhost.NewDictBuilder(host.PointerSize, 4)
	inv.Put(uint64(w.NewString("potion")), 3)
	inv.Put(uint64(w.NewString("arrow")), 40)
	w.WritePointer(p.Add(0x28), w.NewDictionary(w.Dictionary, inv))
	w.WritePointer(p.Add(0x30), w.NewList(w.List, nil))
	w.WritePointer(p.Add(0x38), w.NewByteArray(make([]byte, 256)))
	return p
}

// AddFriend appends friend to the friends list of p.
func (w *World) AddFriend(p, friend host.Pointer) {
	r := host.Reader{Mem: w.Heap}
	list, err := r.Pointer(p.Add(0x30))
	if err != nil {
		panic(err)
	}
	size, err := r.I32(list.Add(memhost.ListSizeOffset))
	if err != nil {
		panic(err)
	}
	arr, err := r.Pointer(list.Add(memhost.ListItemsOffset))
	if err != nil {
		panic(err)
	}
	items := make([]host.Pointer, 0, size+1)
	for i := int64(0); i < int64(size); i++ {
		it, err := r.Pointer(arr.Add(memhost.ArrayDataOffset + i*host.PointerSize))
		if err != nil {
			panic(err)
		}
		items = append(items, it)
	}
	w.WritePointer(p.Add(0x30), w.NewList(w.List, append(items, friend)))
}

// NewRequest allocates a web request.
func (w *World) NewRequest(method, url string) host.Pointer {
	p := w.New(w.Request)
	w.WritePointer(p.Add(0x10), w.NewString(url))
	w.WritePointer(p.Add(0x18), w.NewString(method))
	return p
}

// Complete sets the response code of a request.
func (w *World) Complete(req host.Pointer, code int64) {
	w.WriteI64(req.Add(0x20), code)
}

// NewTimer allocates a step timer.
func (w *World) NewTimer(remaining float32) host.Pointer {
	p := w.New(w.Timer)
	w.WriteF32(p.Add(0x10), remaining)
	return p
}

// Bool converts a register-sized boolean return value.
func Bool(p host.Pointer) bool { return p&0xff != 0 }

// FromBool returns the register-sized form of b.
func FromBool(b bool) host.Pointer {
	if b {
		return 1
	}
	return 0
}
