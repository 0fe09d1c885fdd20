package vm

// ---------------------------------------------------------------------------
// Data structure natives
// ---------------------------------------------------------------------------

// Resource kinds accepted by ds_exists.
const (
	DSTypeMap      = 1
	DSTypeList     = 2
	DSTypeStack    = 3
	DSTypeQueue    = 4
	DSTypeGrid     = 5
	DSTypePriority = 6
)

func handleResult(h Handle) Variable { return Int64(int64(h)) }

// dsNative resolves args[0] as a handle in one table before calling fn.
func dsNative[T any](table func(*Resources) *HandleTable[T], fn func(e *Executor, ds *T, out *Variable, args []Variable) error) NativeFunc {
	return func(e *Executor, out *Variable, args []Variable) error {
		if len(args) == 0 {
			return scriptErrorf(ErrMisc, "missing handle argument")
		}
		h, err := argHandle(args, 0)
		if err != nil {
			return err
		}
		ds, err := table(e.World().Resources()).Get(h)
		if err != nil {
			return err
		}
		return fn(e, ds, out, args[1:])
	}
}

func destroyNative[T any](table func(*Resources) *HandleTable[T]) NativeFunc {
	return func(e *Executor, out *Variable, args []Variable) error {
		h, err := argHandle(args, 0)
		if err != nil {
			return err
		}
		t := table(e.World().Resources())
		if !t.Delete(h) {
			return scriptErrorf(ErrStaleHandle, "%s %d does not exist", t.Kind(), h)
		}
		return nil
	}
}

func listsOf(r *Resources) *HandleTable[DSList] { return r.Lists }
func mapsOf(r *Resources) *HandleTable[DSMap] { return r.Maps }
func gridsOf(r *Resources) *HandleTable[DSGrid] { return r.Grids }
func stacksOf(r *Resources) *HandleTable[DSStack] { return r.Stacks }
func queuesOf(r *Resources) *HandleTable[DSQueue] { return r.Queues }
func prioritiesOf(r *Resources) *HandleTable[DSPriority] { return r.Priorities }

// copyOrUndefined sets out to a copy of v, or undefined when absent.
func copyOrUndefined(out *Variable, v *Variable, ok bool) {
	if ok {
		out.Set(v)
		return
	}
	out.Cleanup()
}

// destroyList deletes a list and every nested structure it is marked as
// owning.
func destroyList(r *Resources, h Handle) bool {
	l, err := r.Lists.Get(h)
	if err != nil {
		return false
	}
	for i := range l.items {
		nh, err := l.items[i].CoerceInt64()
		if err != nil {
			continue
		}
		switch l.Marked(i) {
		case NestedList:
			destroyList(r, Handle(nh))
		case NestedMap:
			r.Maps.Delete(Handle(nh))
		}
	}
	return r.Lists.Delete(h)
}

func registerDSNatives(t *NativeTable) {
	t.Register("ds_exists", 2, func(e *Executor, out *Variable, args []Variable) error {
		h, err := argHandle(args, 0)
		if err != nil {
			return err
		}
		kind, err := argInt(args, 1)
		if err != nil {
			return err
		}
		r := e.World().Resources()
		var ok bool
		switch kind {
		case DSTypeMap:
			ok = r.Maps.Exists(h)
		case DSTypeList:
			ok = r.Lists.Exists(h)
		case DSTypeStack:
			ok = r.Stacks.Exists(h)
		case DSTypeQueue:
			ok = r.Queues.Exists(h)
		case DSTypeGrid:
			ok = r.Grids.Exists(h)
		case DSTypePriority:
			ok = r.Priorities.Exists(h)
		default:
			return scriptErrorf(ErrMisc, "unknown data structure type %d", kind)
		}
		setResult(out, Bool(ok))
		return nil
	})

	// --- Lists ---
	t.Register("ds_list_create", 0, func(e *Executor, out *Variable, args []Variable) error {
		setResult(out, handleResult(e.World().Resources().Lists.New(nil)))
		return nil
	})
	t.Register("ds_list_destroy", 1, func(e *Executor, out *Variable, args []Variable) error {
		h, err := argHandle(args, 0)
		if err != nil {
			return err
		}
		if !destroyList(e.World().Resources(), h) {
			return scriptErrorf(ErrStaleHandle, "list %d does not exist", h)
		}
		return nil
	})
	t.Register("ds_list_add", Variadic, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		for i := range args {
			l.Add(&args[i])
		}
		return nil
	}))
	t.Register("ds_list_size", 1, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		setResult(out, Int(int32(l.Len())))
		return nil
	}))
	t.Register("ds_list_empty", 1, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		setResult(out, Bool(l.Len() == 0))
		return nil
	}))
	t.Register("ds_list_find_value", 2, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		i, err := argInt(args, 0)
		if err != nil {
			return err
		}
		v, err := l.Get(i)
		if err != nil {
			return err
		}
		out.Set(v)
		return nil
	}))
	t.Register("ds_list_find_index", 2, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		setResult(out, Int(int32(l.Find(&args[0]))))
		return nil
	}))
	t.Register("ds_list_set", 3, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		i, err := argInt(args, 0)
		if err != nil {
			return err
		}
		return l.Set(i, &args[1])
	}))
	t.Register("ds_list_insert", 3, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		i, err := argInt(args, 0)
		if err != nil {
			return err
		}
		return l.Insert(i, &args[1])
	}))
	t.Register("ds_list_delete", 2, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		i, err := argInt(args, 0)
		if err != nil {
			return err
		}
		return l.Delete(i)
	}))
	t.Register("ds_list_clear", 1, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		l.Clear()
		return nil
	}))
	t.Register("ds_list_sort", 2, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		asc, err := args[0].CoerceBool()
		if err != nil {
			return err
		}
		return l.Sort(e.World().Resources().Comparator(), asc)
	}))
	t.Register("ds_list_mark_as_list", 2, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		i, err := argInt(args, 0)
		if err != nil {
			return err
		}
		return l.Mark(i, NestedList)
	}))
	t.Register("ds_list_mark_as_map", 2, dsNative(listsOf, func(e *Executor, l *DSList, out *Variable, args []Variable) error {
		i, err := argInt(args, 0)
		if err != nil {
			return err
		}
		return l.Mark(i, NestedMap)
	}))

	// --- Maps ---
	t.Register("ds_map_create", 0, func(e *Executor, out *Variable, args []Variable) error {
		h, _ := e.World().Resources().NewMap()
		setResult(out, handleResult(h))
		return nil
	})
	t.Register("ds_map_destroy", 1, destroyNative(mapsOf))
	t.Register("ds_map_add", 3, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		added, err := m.Add(&args[0], &args[1])
		setResult(out, Bool(added))
		return err
	}))
	t.Register("ds_map_replace", 3, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		return m.Replace(&args[0], &args[1])
	}))
	t.Register("ds_map_find_value", 2, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		v, ok, err := m.Find(&args[0])
		if err != nil {
			return err
		}
		copyOrUndefined(out, v, ok)
		return nil
	}))
	t.Register("ds_map_exists", 2, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		_, ok, err := m.Find(&args[0])
		setResult(out, Bool(ok))
		return err
	}))
	t.Register("ds_map_delete", 2, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		return m.Delete(&args[0])
	}))
	t.Register("ds_map_size", 1, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		setResult(out, Int(int32(m.Len())))
		return nil
	}))
	t.Register("ds_map_empty", 1, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		setResult(out, Bool(m.Len() == 0))
		return nil
	}))
	t.Register("ds_map_clear", 1, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		m.Clear()
		return nil
	}))
	t.Register("ds_map_find_first", 1, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		k, ok := m.First()
		copyOrUndefined(out, k, ok)
		return nil
	}))
	t.Register("ds_map_find_last", 1, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		k, ok := m.Last()
		copyOrUndefined(out, k, ok)
		return nil
	}))
	t.Register("ds_map_find_next", 2, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		k, ok, err := m.Next(&args[0])
		if err != nil {
			return err
		}
		copyOrUndefined(out, k, ok)
		return nil
	}))
	t.Register("ds_map_find_previous", 2, dsNative(mapsOf, func(e *Executor, m *DSMap, out *Variable, args []Variable) error {
		k, ok, err := m.Prev(&args[0])
		if err != nil {
			return err
		}
		copyOrUndefined(out, k, ok)
		return nil
	}))

	// --- Grids ---
	t.Register("ds_grid_create", 2, func(e *Executor, out *Variable, args []Variable) error {
		w, err := argInt(args, 0)
		if err != nil {
			return err
		}
		h, err := argInt(args, 1)
		if err != nil {
			return err
		}
		if w < 0 || h < 0 {
			return scriptErrorf(ErrOutOfBounds, "grid size %dx%d", w, h)
		}
		setResult(out, handleResult(e.World().Resources().Grids.New(NewDSGrid(w, h))))
		return nil
	})
	t.Register("ds_grid_destroy", 1, destroyNative(gridsOf))
	t.Register("ds_grid_width", 1, dsNative(gridsOf, func(e *Executor, g *DSGrid, out *Variable, args []Variable) error {
		setResult(out, Int(int32(g.Width())))
		return nil
	}))
	t.Register("ds_grid_height", 1, dsNative(gridsOf, func(e *Executor, g *DSGrid, out *Variable, args []Variable) error {
		setResult(out, Int(int32(g.Height())))
		return nil
	}))
	t.Register("ds_grid_get", 3, dsNative(gridsOf, func(e *Executor, g *DSGrid, out *Variable, args []Variable) error {
		x, err := argInt(args, 0)
		if err != nil {
			return err
		}
		y, err := argInt(args, 1)
		if err != nil {
			return err
		}
		v, err := g.Get(x, y)
		if err != nil {
			return err
		}
		out.Set(v)
		return nil
	}))
	t.Register("ds_grid_set", 4, dsNative(gridsOf, func(e *Executor, g *DSGrid, out *Variable, args []Variable) error {
		x, err := argInt(args, 0)
		if err != nil {
			return err
		}
		y, err := argInt(args, 1)
		if err != nil {
			return err
		}
		return g.Set(x, y, &args[2])
	}))
	t.Register("ds_grid_resize", 3, dsNative(gridsOf, func(e *Executor, g *DSGrid, out *Variable, args []Variable) error {
		w, err := argInt(args, 0)
		if err != nil {
			return err
		}
		h, err := argInt(args, 1)
		if err != nil {
			return err
		}
		g.Resize(w, h)
		return nil
	}))
	t.Register("ds_grid_clear", 2, dsNative(gridsOf, func(e *Executor, g *DSGrid, out *Variable, args []Variable) error {
		g.Fill(&args[0])
		return nil
	}))

	// --- Stacks ---
	t.Register("ds_stack_create", 0, func(e *Executor, out *Variable, args []Variable) error {
		setResult(out, handleResult(e.World().Resources().Stacks.New(nil)))
		return nil
	})
	t.Register("ds_stack_destroy", 1, destroyNative(stacksOf))
	t.Register("ds_stack_push", Variadic, dsNative(stacksOf, func(e *Executor, st *DSStack, out *Variable, args []Variable) error {
		for i := range args {
			st.Push(&args[i])
		}
		return nil
	}))
	t.Register("ds_stack_pop", 1, dsNative(stacksOf, func(e *Executor, st *DSStack, out *Variable, args []Variable) error {
		v, _ := st.Pop()
		setResult(out, v)
		return nil
	}))
	t.Register("ds_stack_top", 1, dsNative(stacksOf, func(e *Executor, st *DSStack, out *Variable, args []Variable) error {
		v, ok := st.Top()
		copyOrUndefined(out, v, ok)
		return nil
	}))
	t.Register("ds_stack_size", 1, dsNative(stacksOf, func(e *Executor, st *DSStack, out *Variable, args []Variable) error {
		setResult(out, Int(int32(st.Len())))
		return nil
	}))
	t.Register("ds_stack_empty", 1, dsNative(stacksOf, func(e *Executor, st *DSStack, out *Variable, args []Variable) error {
		setResult(out, Bool(st.Len() == 0))
		return nil
	}))
	t.Register("ds_stack_clear", 1, dsNative(stacksOf, func(e *Executor, st *DSStack, out *Variable, args []Variable) error {
		st.Clear()
		return nil
	}))

	// --- Queues ---
	t.Register("ds_queue_create", 0, func(e *Executor, out *Variable, args []Variable) error {
		setResult(out, handleResult(e.World().Resources().Queues.New(nil)))
		return nil
	})
	t.Register("ds_queue_destroy", 1, destroyNative(queuesOf))
	t.Register("ds_queue_enqueue", Variadic, dsNative(queuesOf, func(e *Executor, q *DSQueue, out *Variable, args []Variable) error {
		for i := range args {
			q.Enqueue(&args[i])
		}
		return nil
	}))
	t.Register("ds_queue_dequeue", 1, dsNative(queuesOf, func(e *Executor, q *DSQueue, out *Variable, args []Variable) error {
		v, _ := q.Dequeue()
		setResult(out, v)
		return nil
	}))
	t.Register("ds_queue_head", 1, dsNative(queuesOf, func(e *Executor, q *DSQueue, out *Variable, args []Variable) error {
		v, ok := q.Head()
		copyOrUndefined(out, v, ok)
		return nil
	}))
	t.Register("ds_queue_tail", 1, dsNative(queuesOf, func(e *Executor, q *DSQueue, out *Variable, args []Variable) error {
		v, ok := q.Tail()
		copyOrUndefined(out, v, ok)
		return nil
	}))
	t.Register("ds_queue_size", 1, dsNative(queuesOf, func(e *Executor, q *DSQueue, out *Variable, args []Variable) error {
		setResult(out, Int(int32(q.Len())))
		return nil
	}))
	t.Register("ds_queue_empty", 1, dsNative(queuesOf, func(e *Executor, q *DSQueue, out *Variable, args []Variable) error {
		setResult(out, Bool(q.Len() == 0))
		return nil
	}))
	t.Register("ds_queue_clear", 1, dsNative(queuesOf, func(e *Executor, q *DSQueue, out *Variable, args []Variable) error {
		q.Clear()
		return nil
	}))

	// --- Priority queues ---
	t.Register("ds_priority_create", 0, func(e *Executor, out *Variable, args []Variable) error {
		h, _ := e.World().Resources().NewPriority()
		setResult(out, handleResult(h))
		return nil
	})
	t.Register("ds_priority_destroy", 1, destroyNative(prioritiesOf))
	t.Register("ds_priority_add", 3, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		return p.Add(&args[0], &args[1])
	}))
	t.Register("ds_priority_delete_min", 1, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		v, _ := p.DeleteMin()
		setResult(out, v)
		return nil
	}))
	t.Register("ds_priority_delete_max", 1, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		v, _ := p.DeleteMax()
		setResult(out, v)
		return nil
	}))
	t.Register("ds_priority_find_min", 1, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		v, ok := p.FindMin()
		copyOrUndefined(out, v, ok)
		return nil
	}))
	t.Register("ds_priority_find_max", 1, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		v, ok := p.FindMax()
		copyOrUndefined(out, v, ok)
		return nil
	}))
	t.Register("ds_priority_size", 1, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		setResult(out, Int(int32(p.Len())))
		return nil
	}))
	t.Register("ds_priority_empty", 1, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		setResult(out, Bool(p.Len() == 0))
		return nil
	}))
	t.Register("ds_priority_clear", 1, dsNative(prioritiesOf, func(e *Executor, p *DSPriority, out *Variable, args []Variable) error {
		p.Clear()
		return nil
	}))
}
