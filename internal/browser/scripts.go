package browser

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// js encodes v as a JavaScript literal.
func js(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func visibleScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  const style = window.getComputedStyle(el);
  if (style.display === "none" || style.visibility === "hidden" || style.opacity === "0") return false;
  const rect = el.getBoundingClientRect();
  return rect.width > 0 && rect.height > 0;
})()`, js(selector))
}

func countScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, js(selector))
}

func textScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  return el ? (el.innerText || el.textContent || "").trim() : "";
})()`, js(selector))
}

func clickScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.click();
  return true;
})()`, js(selector))
}

func submitScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  const form = el.tagName === "FORM" ? el : el.closest("form");
  if (!form) return false;
  if (typeof form.requestSubmit === "function") form.requestSubmit(); else form.submit();
  return true;
})()`, js(selector))
}

func removeScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const nodes = document.querySelectorAll(%s);
  nodes.forEach((n) => n.remove());
  document.documentElement.style.overflow = "";
  if (document.body) document.body.style.overflow = "";
  return nodes.length;
})()`, js(selector))
}

func setTextScript(selector, text string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  el.focus();
  el.textContent = %s;
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  el.dispatchEvent(new Event("blur", {bubbles: true}));
  return true;
})()`, js(selector), js(text))
}

func setValueScript(selector, value string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  const proto = Object.getPrototypeOf(el);
  const desc = Object.getOwnPropertyDescriptor(proto, "value");
  if (desc && desc.set) desc.set.call(el, %s); else el.value = %s;
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  el.dispatchEvent(new Event("blur", {bubbles: true}));
  return true;
})()`, js(selector), js(value), js(value))
}

const readLocalStorageScript = `(() => {
  const out = [];
  try {
    for (let i = 0; i < localStorage.length; i++) {
      const name = localStorage.key(i);
      out.push({name: name, value: localStorage.getItem(name)});
    }
  } catch (e) {}
  return out;
})()`

// localStorageScript writes the snapshot's entries when a document from
// origin loads. Other origins are left alone.
func localStorageScript(origin publish.OriginStorage) string {
	return fmt.Sprintf(`(() => {
  if (location.origin !== %s) return;
  const entries = %s;
  try {
    for (const e of entries) localStorage.setItem(e.name, e.value);
  } catch (e) {}
})()`, js(origin.Origin), js(origin.LocalStorage))
}
