package analysis

import (
	"sort"
	"strings"
)

// maxNewExamples caps example URLs appended per merged page-type occurrence.
const maxNewExamples = 3

// Merge combines batch documents. A single document is returned as is.
// Otherwise pages are concatenated in batch order, page types, components
// and integrations are unioned by name, and recommendations are
// deduplicated by exact text.
func Merge(docs []*Document) *Document {
	var present []*Document
	for _, d := range docs {
		if d != nil {
			present = append(present, d)
		}
	}
	switch len(present) {
	case 0:
		return &Document{}
	case 1:
		return present[0]
	}

	out := &Document{Overview: present[0].Overview}
	types := newIndex()
	comps := newIndex()
	integrations := newIndex()
	recs := make(map[string]bool)

	for _, d := range present {
		if out.Overview.SiteName == "" {
			out.Overview.SiteName = d.Overview.SiteName
		}
		if out.Overview.Summary == "" {
			out.Overview.Summary = d.Overview.Summary
		}
		if out.Overview.Complexity == "" {
			out.Overview.Complexity = d.Overview.Complexity
		}

		out.Pages = append(out.Pages, d.Pages...)

		for _, pt := range d.PageTypes {
			i, ok := types.find(pt.Name)
			if !ok {
				pt.ExampleURLs = appendUnique(nil, pt.ExampleURLs, maxNewExamples)
				types.add(pt.Name, len(out.PageTypes))
				out.PageTypes = append(out.PageTypes, pt)
				continue
			}
			dst := &out.PageTypes[i]
			dst.Count += pt.Count
			dst.ExampleURLs = appendUnique(dst.ExampleURLs, pt.ExampleURLs, maxNewExamples)
			if dst.Description == "" {
				dst.Description = pt.Description
			}
		}

		for _, c := range d.Components {
			i, ok := comps.find(c.Name)
			if !ok {
				c.FoundOnURLs = appendUnique(nil, c.FoundOnURLs, 0)
				comps.add(c.Name, len(out.Components))
				out.Components = append(out.Components, c)
				continue
			}
			dst := &out.Components[i]
			dst.FoundOnURLs = appendUnique(dst.FoundOnURLs, c.FoundOnURLs, 0)
			if dst.Description == "" {
				dst.Description = c.Description
			}
		}

		for _, in := range d.Integrations {
			i, ok := integrations.find(in.Name)
			if !ok {
				in.DetectedOnURLs = appendUnique(nil, in.DetectedOnURLs, 0)
				integrations.add(in.Name, len(out.Integrations))
				out.Integrations = append(out.Integrations, in)
				continue
			}
			dst := &out.Integrations[i]
			dst.DetectedOnURLs = appendUnique(dst.DetectedOnURLs, in.DetectedOnURLs, 0)
			if dst.Category == "" {
				dst.Category = in.Category
			}
			if dst.Description == "" {
				dst.Description = in.Description
			}
		}

		for _, r := range d.Recommendations {
			if !recs[r] {
				recs[r] = true
				out.Recommendations = append(out.Recommendations, r)
			}
		}
	}

	out.Overview.TotalPagesAnalyzed = Count(len(out.Pages))
	return out
}

// Annotate derives component reuse. A component is reusable when it is
// seen under more than one page type, either through a page's component
// list or through its own found_on_urls mapped back to page types. Page
// types referenced by pages but missing from page_types are added.
//
// When the document lists pages, each page type's count is the number of
// pages of that type, so the counts always sum to len(pages). Pages with no
// type are filed under UncategorizedType.
func Annotate(doc *Document) {
	if doc == nil {
		return
	}

	typeOfURL := make(map[string]string, len(doc.Pages))
	typeNames := newIndex()
	for i, pt := range doc.PageTypes {
		typeNames.add(pt.Name, i)
	}

	compNames := newIndex()
	for i, c := range doc.Components {
		compNames.add(c.Name, i)
	}

	compTypes := make(map[string]map[string]bool)
	typeComps := make(map[string]map[string]bool)
	link := func(comp, pageType string) {
		if key(comp) == "" || key(pageType) == "" {
			return
		}
		ci, ok := compNames.find(comp)
		if !ok {
			ci = len(doc.Components)
			compNames.add(comp, ci)
			doc.Components = append(doc.Components, Component{Name: strings.TrimSpace(comp)})
		}
		name := doc.Components[ci].Name
		addTo(compTypes, key(name), key(pageType))
		addTo(typeComps, key(pageType), name)
	}

	pagesPerType := make(map[string]int)
	for i := range doc.Pages {
		p := &doc.Pages[i]
		if key(p.PageType) == "" {
			p.PageType = UncategorizedType
		}
		typeOfURL[urlKey(p.URL)] = p.PageType
		pagesPerType[key(p.PageType)]++
		if _, ok := typeNames.find(p.PageType); !ok {
			typeNames.add(p.PageType, len(doc.PageTypes))
			doc.PageTypes = append(doc.PageTypes, PageType{Name: strings.TrimSpace(p.PageType)})
		}
	}

	for _, p := range doc.Pages {
		for _, c := range p.Components {
			link(c, p.PageType)
		}
	}
	for i := range doc.Components {
		c := doc.Components[i]
		for _, u := range c.FoundOnURLs {
			if t, ok := typeOfURL[urlKey(u)]; ok {
				link(c.Name, t)
			}
		}
	}

	for i := range doc.Components {
		c := &doc.Components[i]
		if len(compTypes[key(c.Name)]) > 1 {
			c.Reusable = ReusableYes
		} else {
			c.Reusable = ReusableNo
		}
	}

	for i := range doc.PageTypes {
		pt := &doc.PageTypes[i]
		if len(doc.Pages) > 0 {
			pt.Count = Count(pagesPerType[key(pt.Name)])
		}
		var all, reusable []string
		for name := range typeComps[key(pt.Name)] {
			all = append(all, name)
			if len(compTypes[key(name)]) > 1 {
				reusable = append(reusable, name)
			}
		}
		sort.Strings(all)
		sort.Strings(reusable)
		pt.Components = strings.Join(all, ", ")
		pt.ReusableComponents = strings.Join(reusable, ", ")
		pt.ComponentCount = len(all)
	}
}

// index maps folded names to slice positions.
type index map[string]int

func newIndex() index { return make(index) }

func (x index) find(name string) (int, bool) {
	i, ok := x[key(name)]
	return i, ok
}

func (x index) add(name string, i int) {
	if k := key(name); k != "" {
		if _, ok := x[k]; !ok {
			x[k] = i
		}
	}
}

func addTo(m map[string]map[string]bool, k, v string) {
	set := m[k]
	if set == nil {
		set = make(map[string]bool)
		m[k] = set
	}
	set[v] = true
}

// appendUnique appends up to limit values from src that dst does not hold.
// A limit of zero means no limit.
func appendUnique(dst, src []string, limit int) []string {
	seen := make(map[string]bool, len(dst)+len(src))
	for _, s := range dst {
		seen[s] = true
	}
	added := 0
	for _, s := range src {
		if limit > 0 && added >= limit {
			break
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		dst = append(dst, s)
		added++
	}
	return dst
}
