package bundler

import (
	"strconv"
	"strings"
)

// HotSocketPath and HotUpdatePrefix are the dev server endpoints the hot client talks to
const (
	HotSocketPath   = "/__gopack/ws"
	HotUpdatePrefix = "/__gopack/hot/"
	chunkQueue      = `self["__gopack_chunks__"]`
	hotUpdateHook   = `self["__gopack_hot_update__"]`
)

const runtimeTemplate = `(function () {
  if (self.__gopack_runtime__) {
    return;
  }

  var hot = __GOPACK_HOT__;
  var modules = {};
  var cache = {};
  var installed = {};
  var deferred = [];
  self.__gopack_runtime__ = { modules: modules, cache: cache };

  function require(id) {
    var cached = cache[id];
    if (cached !== undefined) {
      return cached.exports;
    }

    var factory = modules[id];
    if (factory === undefined) {
      throw new Error("Cannot find module '" + id + "'");
    }

    var module = cache[id] = { id: id, exports: {}, parents: [], children: [] };
    if (hot) {
      module.hot = createHot(module);
    }
    factory.call(module.exports, module, module.exports, localRequire(module));
    return module.exports;
  }

  function localRequire(parent) {
    if (!hot) {
      return require;
    }

    return function (id) {
      var exports = require(id);
      var child = cache[id];
      if (child && child.parents.indexOf(parent.id) === -1) {
        child.parents.push(parent.id);
      }
      if (parent.children.indexOf(id) === -1) {
        parent.children.push(id);
      }
      return exports;
    };
  }

  function runDeferred() {
    for (var i = 0; i < deferred.length; i++) {
      var item = deferred[i];
      var ready = item.requires.every(function (name) {
        return installed[name];
      });
      if (!ready) {
        continue;
      }

      deferred.splice(i--, 1);
      item.entries.forEach(function (id) {
        require(id);
      });
    }
  }

  function install(chunk) {
    var names = chunk[0];
    var factories = chunk[1];
    var entries = chunk[2] || [];
    var requires = chunk[3] || [];

    for (var id in factories) {
      if (Object.prototype.hasOwnProperty.call(factories, id)) {
        modules[id] = factories[id];
      }
    }
    for (var i = 0; i < names.length; i++) {
      installed[names[i]] = true;
    }
    if (entries.length) {
      deferred.push({ entries: entries, requires: requires });
    }
    runDeferred();
  }

  var queue = self["__gopack_chunks__"] = self["__gopack_chunks__"] || [];
  queue.forEach(install);
  queue.push = function (chunk) {
    install(chunk);
    return queue.length;
  };

  if (!hot) {
    return;
  }

  function createHot(module) {
    return {
      _selfAccepted: false,
      _acceptedDependencies: {},
      _disposeHandlers: [],
      data: undefined,
      accept: function (dep, callback) {
        if (dep === undefined || typeof dep === "function") {
          this._selfAccepted = true;
          return;
        }

        var deps = Array.isArray(dep) ? dep : [dep];
        var ids = module.deps || {};
        for (var i = 0; i < deps.length; i++) {
          var id = Object.prototype.hasOwnProperty.call(ids, deps[i]) ? ids[deps[i]] : deps[i];
          this._acceptedDependencies[id] = callback || function () {};
        }
      },
      dispose: function (callback) {
        this._disposeHandlers.push(callback);
      },
      addDisposeHandler: function (callback) {
        this._disposeHandlers.push(callback);
      }
    };
  }

  function reload() {
    self.location.reload();
  }

  function propagate(id, outdated, callbacks) {
    var queue = [id];
    while (queue.length) {
      var current = queue.pop();
      var module = cache[current];
      if (!module || outdated.indexOf(current) !== -1) {
        continue;
      }

      outdated.push(current);
      if (module.hot._selfAccepted) {
        continue;
      }
      if (!module.parents.length) {
        return false;
      }

      for (var i = 0; i < module.parents.length; i++) {
        var parentId = module.parents[i];
        var parent = cache[parentId];
        if (!parent) {
          continue;
        }

        var accept = parent.hot._acceptedDependencies[current];
        if (accept) {
          callbacks.push({ id: current, fn: accept });
          continue;
        }
        queue.push(parentId);
      }
    }
    return true;
  }

  function applyUpdate(hash, factories) {
    var outdated = [];
    var callbacks = [];

    for (var id in factories) {
      if (!Object.prototype.hasOwnProperty.call(factories, id)) {
        continue;
      }
      if (cache[id] && !propagate(id, outdated, callbacks)) {
        console.log("[gopack] " + id + " can't be hot updated, reloading");
        reload();
        return;
      }
    }

    var parents = {};
    outdated.forEach(function (id) {
      var module = cache[id];
      var data = {};
      module.hot._disposeHandlers.forEach(function (handler) {
        handler(data);
      });
      parents[id] = { list: module.parents, data: data, selfAccepted: module.hot._selfAccepted };
      delete cache[id];
    });

    for (var key in factories) {
      if (Object.prototype.hasOwnProperty.call(factories, key)) {
        modules[key] = factories[key];
      }
    }

    try {
      outdated.forEach(function (id) {
        if (!parents[id].selfAccepted) {
          return;
        }
        require(id);
        cache[id].parents = parents[id].list;
        cache[id].hot.data = parents[id].data;
      });
      callbacks.forEach(function (item) {
        item.fn([item.id]);
      });
    } catch (err) {
      console.error("[gopack] error while applying an update", err);
      reload();
      return;
    }

    currentHash = hash;
    console.log("[gopack] updated modules: " + Object.keys(factories).join(", "));
  }

  self["__gopack_hot_update__"] = applyUpdate;

  var currentHash = null;
  var overlay = null;

  function showOverlay(message) {
    hideOverlay();
    overlay = document.createElement("div");
    overlay.setAttribute("style", "position:fixed;inset:0;z-index:2147483647;background:rgba(0,0,0,0.85);color:#e8e8e8;padding:2em;overflow:auto;font-family:monospace;");
    var pre = document.createElement("pre");
    pre.appendChild(document.createTextNode(message));
    overlay.appendChild(pre);
    document.body.appendChild(overlay);
  }

  function hideOverlay() {
    if (overlay && overlay.parentNode) {
      overlay.parentNode.removeChild(overlay);
    }
    overlay = null;
  }

  function loadUpdate(url) {
    var script = document.createElement("script");
    script.src = url;
    script.onload = function () {
      script.parentNode.removeChild(script);
    };
    script.onerror = reload;
    document.head.appendChild(script);
  }

  function connect() {
    var protocol = self.location.protocol === "https:" ? "wss://" : "ws://";
    var socket = new WebSocket(protocol + self.location.host + __GOPACK_WS__);

    socket.onmessage = function (event) {
      var msg = JSON.parse(event.data);
      switch (msg.type) {
        case "hash":
          if (currentHash === null) {
            currentHash = msg.hash;
          }
          break;
        case "ok":
          hideOverlay();
          break;
        case "error":
          console.error("[gopack] " + msg.message);
          showOverlay(msg.message);
          break;
        case "reload":
          reload();
          break;
        case "update":
          hideOverlay();
          if (msg.hash !== currentHash) {
            loadUpdate(msg.url);
          }
          break;
      }
    };

    socket.onclose = function () {
      setTimeout(connect, 1000);
    };
  }

  connect();
})();
`

// runtimeSource returns the module runtime; with hot set it also carries the hot update client
func runtimeSource(hot bool) string {
	return strings.NewReplacer(
		"__GOPACK_HOT__", strconv.FormatBool(hot),
		"__GOPACK_WS__", jsString(HotSocketPath),
	).Replace(runtimeTemplate)
}
